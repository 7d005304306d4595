package claude

// BuildCachedSystemBlocks constructs system content blocks with an ephemeral
// cache breakpoint. The scoring rubric is identical for every org in a run,
// so later calls within the TTL read the cached block instead of paying for
// it again.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: "5m",
			},
		},
	}
}

package notion

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/expoforge/scout-cli/internal/model"
)

// ResultsExporter mirrors a run's top evaluations into a Notion database,
// one page per org. Orgs already present (matched by website, then by name)
// get their page updated in place, so repeated runs never duplicate rows.
type ResultsExporter struct {
	client Client
	dbID   string
}

// NewResultsExporter targets the given results database.
func NewResultsExporter(client Client, dbID string) *ResultsExporter {
	return &ResultsExporter{client: client, dbID: dbID}
}

// Export pushes the report's top n evaluations, best first. It returns the
// number of pages written and stops at the first failure, so a partial
// export keeps the highest-scored orgs.
func (e *ResultsExporter) Export(ctx context.Context, report *model.BatchReport, n int) (int, error) {
	if e.dbID == "" {
		return 0, eris.New("notion: results database id not configured")
	}

	existing, err := e.existingPages(ctx)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, ev := range report.TopN(n) {
		if ctx.Err() != nil {
			return written, eris.Wrap(ctx.Err(), "notion: export cancelled")
		}

		props := evaluationProperties(ev)
		if pageID := matchPage(existing, ev); pageID != "" {
			_, err = e.client.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{
				Properties: props,
			})
		} else {
			_, err = e.client.CreatePage(ctx, &notionapi.PageCreateRequest{
				Parent: notionapi.Parent{
					Type:       notionapi.ParentTypeDatabaseID,
					DatabaseID: notionapi.DatabaseID(e.dbID),
				},
				Properties: props,
			})
		}
		if err != nil {
			return written, eris.Wrapf(err, "notion: export %s", ev.Org.DisplayName())
		}
		written++
	}
	return written, nil
}

// existingPages walks the whole results database and indexes page ids by
// website and by lower-cased name. First page wins on key collisions.
func (e *ResultsExporter) existingPages(ctx context.Context) (map[string]string, error) {
	byKey := make(map[string]string)
	req := &notionapi.DatabaseQueryRequest{PageSize: 100}
	for {
		resp, err := e.client.QueryDatabase(ctx, e.dbID, req)
		if err != nil {
			return nil, eris.Wrap(err, "notion: list existing pages")
		}
		for _, page := range resp.Results {
			for _, key := range pageKeys(page) {
				if _, ok := byKey[key]; !ok {
					byKey[key] = string(page.ID)
				}
			}
		}
		if !resp.HasMore {
			return byKey, nil
		}
		req = &notionapi.DatabaseQueryRequest{PageSize: 100, StartCursor: resp.NextCursor}
	}
}

// matchPage finds an existing page for the evaluation, preferring the
// website key over the name key.
func matchPage(existing map[string]string, ev model.Evaluation) string {
	if ev.Org.Website != "" {
		if id, ok := existing[ev.Org.Website]; ok {
			return id
		}
	}
	if id, ok := existing[strings.ToLower(ev.Org.DisplayName())]; ok {
		return id
	}
	return ""
}

// pageKeys extracts the lookup keys carried by a results page.
func pageKeys(page notionapi.Page) []string {
	var keys []string

	if prop, ok := page.Properties["Website"]; ok {
		if up, ok := prop.(*notionapi.URLProperty); ok && up.URL != "" {
			keys = append(keys, up.URL)
		}
	}

	if prop, ok := page.Properties["Name"]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			var name string
			for _, rt := range tp.Title {
				name += rt.PlainText
			}
			if name = strings.TrimSpace(name); name != "" {
				keys = append(keys, strings.ToLower(name))
			}
		}
	}

	return keys
}

// evaluationProperties maps one evaluation onto the results database schema.
// Empty values are omitted rather than written as blank properties.
func evaluationProperties(ev model.Evaluation) notionapi.Properties {
	props := notionapi.Properties{
		"Name": notionapi.TitleProperty{
			Type: notionapi.PropertyTypeTitle,
			Title: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: ev.Org.DisplayName()}},
			},
		},
		"Score": notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: ev.Total,
		},
		"Source": notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: string(ev.Source)},
		},
	}

	if ev.Org.Website != "" {
		props["Website"] = notionapi.URLProperty{
			Type: notionapi.PropertyTypeURL,
			URL:  ev.Org.Website,
		}
	}

	if len(ev.Tags) > 0 {
		opts := make([]notionapi.Option, len(ev.Tags))
		for i, tag := range ev.Tags {
			opts[i] = notionapi.Option{Name: tag}
		}
		props["Tags"] = notionapi.MultiSelectProperty{
			Type:        notionapi.PropertyTypeMultiSelect,
			MultiSelect: opts,
		}
	}

	return props
}

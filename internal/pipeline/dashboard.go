package pipeline

import (
	"html/template"
	"math"
	"os"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/expoforge/scout-cli/internal/model"
)

const dashboardTopN = 20

const dashboardTmpl = `<!DOCTYPE html>
<html lang="fr">
<head>
<meta charset="utf-8">
<title>Scout — {{if .Label}}{{.Label}}{{else}}Analyse des exposants{{end}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; margin: 0; background: #f5f6fa; color: #2d3436; }
.header { background: linear-gradient(135deg, #667eea 0%, #764ba2 100%); color: #fff; padding: 36px 40px; }
.header h1 { margin: 0 0 6px; font-size: 26px; }
.header p { margin: 0; opacity: .85; }
.stats { display: flex; flex-wrap: wrap; gap: 16px; padding: 24px 40px; }
.stat-card { background: #fff; border-radius: 10px; padding: 18px 24px; min-width: 150px; box-shadow: 0 1px 4px rgba(0,0,0,.08); }
.stat-value { font-size: 28px; font-weight: 700; color: #667eea; }
.stat-label { font-size: 13px; color: #636e72; margin-top: 4px; }
.orgs { padding: 0 40px 40px; }
.org-item { background: #fff; border-radius: 10px; padding: 18px 24px; margin-bottom: 14px; box-shadow: 0 1px 4px rgba(0,0,0,.08); }
.org-score { float: right; font-size: 24px; font-weight: 700; color: #667eea; }
.org-name { font-size: 17px; font-weight: 600; }
.org-link { font-size: 13px; color: #0984e3; text-decoration: none; }
.org-meta { font-size: 13px; color: #636e72; margin-top: 2px; }
.score-bar { background: #e8eaf1; border-radius: 4px; height: 8px; margin: 10px 0; overflow: hidden; }
.score-fill { background: linear-gradient(90deg, #667eea, #764ba2); height: 100%; }
.org-desc { font-size: 14px; color: #2d3436; margin: 8px 0; }
.tag { display: inline-block; background: #eef0fb; color: #5f4bb6; border-radius: 12px; padding: 3px 10px; font-size: 12px; margin-right: 6px; }
</style>
</head>
<body>
<div class="header">
<h1>Analyse des exposants</h1>
<p>{{if .Label}}{{.Label}} — {{end}}généré le {{.GeneratedAt}}</p>
</div>
<div class="stats">
<div class="stat-card"><div class="stat-value">{{.Attempted}}</div><div class="stat-label">Organisations analysées</div></div>
<div class="stat-card"><div class="stat-value">{{printf "%.1f" .AverageScore}}</div><div class="stat-label">Score moyen</div></div>
<div class="stat-card"><div class="stat-value">{{.Succeeded}}</div><div class="stat-label">Sites récupérés</div></div>
<div class="stat-card"><div class="stat-value">{{.AIUsed}}</div><div class="stat-label">Scores IA</div></div>
<div class="stat-card"><div class="stat-value">{{.CacheHits}}</div><div class="stat-label">Résultats en cache</div></div>
</div>
<div class="orgs">
<h2>Top {{len .Rows}}</h2>
{{range .Rows}}<div class="org-item">
<div class="org-score">{{printf "%.1f" .Total}}</div>
<div class="org-name">{{.Rank}}. {{.Name}}</div>
{{if .Website}}<a class="org-link" href="{{.Website}}">{{.Website}}</a>{{end}}
{{if .Meta}}<div class="org-meta">{{.Meta}}</div>{{end}}
<div class="score-bar"><div class="score-fill" style="width: {{.Percent}}%"></div></div>
{{if .Description}}<p class="org-desc">{{.Description}}</p>{{end}}
{{range .Tags}}<span class="tag">{{.}}</span>{{end}}
</div>
{{end}}</div>
</body>
</html>
`

var dashboardTemplate = template.Must(template.New("dashboard").Parse(dashboardTmpl))

type dashboardData struct {
	Label        string
	GeneratedAt  string
	Attempted    int
	AverageScore float64
	Succeeded    int
	CacheHits    int
	AIUsed       int
	Rows         []dashboardRow
}

type dashboardRow struct {
	Rank        int
	Name        string
	Website     string
	Total       float64
	Percent     int
	Meta        string
	Description string
	Tags        []string
}

func buildDashboard(report *model.BatchReport) dashboardData {
	data := dashboardData{
		Label:       report.Label,
		GeneratedAt: report.GeneratedAt.Format("02/01/2006 15:04"),
		Attempted:   report.Attempted,
		Succeeded:   report.Succeeded,
		CacheHits:   report.CacheHits,
		AIUsed:      report.AIUsed,
	}
	data.AverageScore = summarize(report.Evaluations).AverageScore

	top := report.TopN(dashboardTopN)
	data.Rows = make([]dashboardRow, 0, len(top))
	for i, eval := range top {
		var meta []string
		if eval.Org.Hall != "" {
			meta = append(meta, "Hall "+eval.Org.Hall)
		}
		if eval.Org.Days != "" {
			meta = append(meta, eval.Org.Days)
		}
		data.Rows = append(data.Rows, dashboardRow{
			Rank:        i + 1,
			Name:        eval.Org.DisplayName(),
			Website:     eval.Org.Website,
			Total:       eval.Total,
			Percent:     int(math.Round(eval.Total)),
			Meta:        strings.Join(meta, " | "),
			Description: excerpt(eval.Org.Description, 200),
			Tags:        eval.Tags,
		})
	}
	return data
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// WriteDashboard renders the HTML view of a finished run.
func (p *Pipeline) WriteDashboard(report *model.BatchReport, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "dashboard: create file")
	}
	defer f.Close() //nolint:errcheck

	if err := dashboardTemplate.Execute(f, buildDashboard(report)); err != nil {
		return eris.Wrap(err, "dashboard: render")
	}
	return nil
}

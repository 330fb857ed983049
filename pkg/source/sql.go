// Package source reads raw entity data from ClickHouse, loads it
// incrementally against checkpoints and writes derived metrics back.
package source

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/ethpandaops/kpt/pkg/clickhouse"
)

const latestSQL = `
SELECT toString({{ ident .EntityColumn }}) AS entity_id, toString(max({{ ident .TimestampColumn }})) AS latest_timestamp
FROM {{ .Table }}
WHERE {{ ident .Column }} IS NOT NULL AND {{ ident .EntityColumn }} IS NOT NULL
GROUP BY {{ ident .EntityColumn }}`

const metricsSQL = `
SELECT toString({{ ident .EntityColumn }}) AS {{ ident "id" }}, toString({{ ident .TimestampColumn }}) AS {{ ident "timestamp" }}
{{- range .Columns }}, {{ ident .Column }} AS {{ ident .Name }}{{ end }}
FROM {{ .Table }}
WHERE {{ ident .EntityColumn }} IS NOT NULL AND {{ ident .TimestampColumn }} IS NOT NULL
{{- if .Entities }}
  AND toString({{ ident .EntityColumn }}) IN ({{ .Entities | join ", " }})
{{- end }}
{{- if .Start }}
  AND {{ ident .TimestampColumn }} > parseDateTime64BestEffort({{ .Start }}, 3, 'UTC')
{{- end }}
{{- if .End }}
  AND {{ ident .TimestampColumn }} <= parseDateTime64BestEffort({{ .End }}, 3, 'UTC')
{{- end }}
{{- if .NotNull }}
  AND ({{ .NotNull | join " OR " }})
{{- end }}
ORDER BY {{ ident "id" }}, {{ ident "timestamp" }}`

const dimensionsSQL = `
SELECT toString({{ ident .EntityColumn }}) AS {{ ident "id" }}
{{- range .Columns }}, {{ ident .Column }} AS {{ ident .Name }}{{ end }}
FROM {{ .Table }}
{{- if .Entities }}
WHERE toString({{ ident .EntityColumn }}) IN ({{ .Entities | join ", " }})
{{- end }}
ORDER BY {{ ident "id" }}`

//nolint:gochecknoglobals // parsed once
var templates = template.Must(template.New("source").
	Funcs(sprig.TxtFuncMap()).
	Funcs(template.FuncMap{"ident": clickhouse.Identifier}).
	Parse(`{{ define "latest" }}` + latestSQL + `{{ end }}` +
		`{{ define "metrics" }}` + metricsSQL + `{{ end }}` +
		`{{ define "dimensions" }}` + dimensionsSQL + `{{ end }}`))

type selectColumn struct {
	Name   string
	Column string
}

type query struct {
	Table           string
	EntityColumn    string
	TimestampColumn string
	Column          string
	Columns         []selectColumn
	Entities        []string
	Start           string
	End             string
	NotNull         []string
}

func render(name string, q query) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, q); err != nil {
		return "", fmt.Errorf("failed to render %s query: %w", name, err)
	}

	return buf.String(), nil
}

package artifact

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"isoforge/internal/config"
)

// RenderReport produces the human-readable build summary. Secrets never
// appear here.
func RenderReport(art *Artifact, cfg config.BuildConfig) string {
	tw := table.NewWriter()
	tw.SetTitle("%s build report", config.BrandName)
	tw.AppendRows([]table.Row{
		{"Artifact", art.Name},
		{"Size", fmt.Sprintf("%.1f MiB", float64(art.SizeBytes)/(1024*1024))},
		{"Edition", cfg.Edition},
		{"Architecture", cfg.Architecture.String()},
		{"Profile", orNone(cfg.BuildProfile)},
		{"Hostname", cfg.Hostname},
		{"Primary user", cfg.Username},
		{"Compression", cfg.CompressionLevel},
		{"SHA-256", orNone(art.SHA256)},
		{"MD5", orNone(art.MD5)},
		{"Signature", signatureStatus(art)},
	})
	for _, warning := range art.Warnings {
		tw.AppendRow(table.Row{"Warning", warning})
	}
	return tw.Render()
}

func (f *Finalizer) writeReport(art *Artifact, cfg config.BuildConfig) error {
	path := strings.TrimSuffix(art.Path, ".iso") + ".report.txt"
	if err := os.WriteFile(path, []byte(RenderReport(art, cfg)+"\n"), 0o644); err != nil {
		return err
	}
	art.ReportPath = path
	return nil
}

func signatureStatus(art *Artifact) string {
	if art.SignaturePath != "" {
		return art.SignaturePath
	}
	return "unsigned"
}

func orNone(value string) string {
	if value == "" {
		return "(none)"
	}
	return value
}

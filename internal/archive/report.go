package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/dustin/go-humanize"

	"github.com/tgmirror/ferry/internal/pkg/logs"
)

// ReportFileName is written into the channel directory after a run that
// processed at least one item.
const ReportFileName = "report.json"

// WriteReportFile serializes the run report into dir.
func WriteReportFile(dir string, r *Report) error {
	data, err := sonic.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	return os.WriteFile(filepath.Join(dir, ReportFileName), data, 0o644)
}

// WritePlanFile serializes a dry-run report to an arbitrary path.
func WritePlanFile(path string, r *Report) error {
	data, err := sonic.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

// LogReport emits the operator summary a run ends with.
func LogReport(ctx context.Context, r *Report) {
	logs.CtxInfo(ctx, "[run] %s %s [%d, %d]: %d downloaded, %d failed, %d texts, %s in %s",
		r.Channel, r.Status, r.StartID, r.EndID,
		r.Downloaded, r.Failed, r.Texts, humanBytes(r.Bytes), formatMillis(r.DurationMS))
	if StorageMode(r.Mode).Uploads() {
		logs.CtxInfo(ctx, "[run] %s uploads: %d albums, %d singles, %d texts, %d failed, %s",
			r.Channel, r.AlbumsUploaded, r.SinglesUploaded, r.TextsForwarded,
			r.UploadFailed, humanBytes(r.UploadBytes))
	}
}

func humanBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func formatMillis(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}

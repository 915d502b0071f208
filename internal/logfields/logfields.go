package logfields

import "log/slog"

// Canonical log field names shared by all packages.
const (
	KeyRunID    = "run_id"
	KeyPackage  = "package"
	KeyVersion  = "version"
	KeyStep     = "step"
	KeyPath     = "path"
	KeyKey      = "key"
	KeyURL      = "url"
	KeyArgs     = "args"
	KeyOutcome  = "outcome"
	KeyDuration = "duration_ms"
	KeyError    = "error"
)

func RunID(id string) slog.Attr     { return slog.String(KeyRunID, id) }
func Package(name string) slog.Attr { return slog.String(KeyPackage, name) }
func Version(v string) slog.Attr    { return slog.String(KeyVersion, v) }
func Step(s string) slog.Attr       { return slog.String(KeyStep, s) }
func Path(p string) slog.Attr       { return slog.String(KeyPath, p) }
func Key(k string) slog.Attr        { return slog.String(KeyKey, k) }
func URL(u string) slog.Attr        { return slog.String(KeyURL, u) }
func Args(args []string) slog.Attr  { return slog.Any(KeyArgs, args) }
func Outcome(o string) slog.Attr    { return slog.String(KeyOutcome, o) }
func DurationMS(ms int64) slog.Attr { return slog.Int64(KeyDuration, ms) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}

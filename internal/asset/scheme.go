package asset

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/neuralfs/neuralfs/internal/faults"
)

// Scheme is the custom URL scheme the shell embeds.
const Scheme = "nfs"

// MapSchemeURL translates an nfs:// asset URL into its loopback HTTP
// equivalent, preserving query parameters. The forms accepted are
// nfs://thumbnail/<id>, nfs://preview/<id>, and nfs://file/<id>.
func MapSchemeURL(raw string, port int) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", faults.Wrap(faults.InvalidArgument, "parse asset url", err)
	}
	if u.Scheme != Scheme {
		return "", faults.Newf(faults.InvalidArgument, "unsupported scheme: %s", u.Scheme)
	}

	// nfs://thumbnail/<id> parses with "thumbnail" as host
	kind := u.Host
	id := strings.Trim(u.Path, "/")
	switch kind {
	case "thumbnail", "preview", "file":
	default:
		return "", faults.Newf(faults.InvalidArgument, "unknown asset route: %s", kind)
	}
	if id == "" || strings.Contains(id, "/") {
		return "", faults.New(faults.InvalidArgument, "malformed asset id")
	}

	mapped := fmt.Sprintf("http://127.0.0.1:%d/%s/%s", port, kind, id)
	if u.RawQuery != "" {
		mapped += "?" + u.RawQuery
	}
	return mapped, nil
}

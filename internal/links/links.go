// Package links derives canonical web URLs for board cards from the Deck
// API base URL.
package links

import (
	"fmt"
	"net/url"
	"strings"
)

// apiMarkers are path segments that belong to the API surface, not to the
// deployment root.
var apiMarkers = []string{"/index.php", "/apps/deck", "/remote.php"}

// deploymentRoot strips the API portion of baseURL, leaving
// scheme://host[/subdir] for instances living in a subdirectory.
func deploymentRoot(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return strings.TrimRight(baseURL, "/")
	}

	path := u.Path
	cut := len(path)
	for _, marker := range apiMarkers {
		if pos := strings.Index(path, marker); pos != -1 && pos < cut {
			cut = pos
		}
	}

	u.Path = strings.TrimRight(path[:cut], "/")
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// CardURL returns the canonical link to a card:
// https://<host>[/subdir]/apps/deck/board/<boardID>/card/<cardID>.
func CardURL(baseURL string, boardID, cardID int64) string {
	root := strings.TrimRight(deploymentRoot(baseURL), "/")
	return fmt.Sprintf("%s/apps/deck/board/%d/card/%d", root, boardID, cardID)
}

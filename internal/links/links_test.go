package links

import "testing"

func TestCardURL(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		expected string
	}{
		{
			name:     "index.php api root",
			baseURL:  "https://cloud.example.com/index.php/apps/deck/api/v1.0",
			expected: "https://cloud.example.com/apps/deck/board/4/card/123",
		},
		{
			name:     "apps path api root",
			baseURL:  "https://cloud.example.com/apps/deck/api/v1.0",
			expected: "https://cloud.example.com/apps/deck/board/4/card/123",
		},
		{
			name:     "subdirectory install",
			baseURL:  "https://example.com/nextcloud/index.php/apps/deck/api/v1.0",
			expected: "https://example.com/nextcloud/apps/deck/board/4/card/123",
		},
		{
			name:     "bare host",
			baseURL:  "https://cloud.example.com",
			expected: "https://cloud.example.com/apps/deck/board/4/card/123",
		},
		{
			name:     "trailing slash",
			baseURL:  "https://cloud.example.com/",
			expected: "https://cloud.example.com/apps/deck/board/4/card/123",
		},
		{
			name:     "remote.php root",
			baseURL:  "https://cloud.example.com/remote.php/dav",
			expected: "https://cloud.example.com/apps/deck/board/4/card/123",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CardURL(tt.baseURL, 4, 123); got != tt.expected {
				t.Errorf("CardURL(%q) = %q, expected %q", tt.baseURL, got, tt.expected)
			}
		})
	}
}

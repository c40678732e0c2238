package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// RefScheme prefixes references to keys in the configured store.
const RefScheme = "blob://"

// OpenRef opens ref, either a local path or blob://<key> read from store.
func OpenRef(ctx context.Context, store Store, ref string) (io.ReadCloser, error) {
	if key, ok := strings.CutPrefix(ref, RefScheme); ok {
		if store == nil {
			return nil, fmt.Errorf("open %s: no blob store configured", ref)
		}
		_, rc, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", ref, err)
		}
		return rc, nil
	}
	f, err := os.Open(ref)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}
	return f, nil
}

package pgvectorstore

import (
	"encoding/json"
	"fmt"

	"github.com/runanywhere/racore/pkg/memindex"
)

func marshalSnapshot(rows []snapshotRow) (memindex.Snapshot, error) {
	buf, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("memindex/pgvectorstore: marshal snapshot: %w", err)
	}
	return buf, nil
}

func unmarshalSnapshot(snap memindex.Snapshot) ([]snapshotRow, error) {
	var rows []snapshotRow
	if err := json.Unmarshal(snap, &rows); err != nil {
		return nil, fmt.Errorf("memindex/pgvectorstore: unmarshal snapshot: %w", err)
	}
	return rows, nil
}

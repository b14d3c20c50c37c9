package stubserver

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"quoteflow/quotation"
)

// seedFile is the json-server db.json layout.
type seedFile struct {
	Quotations []quotation.Quotation `json:"quotations"`
}

// ReadSeed decodes a db.json document.
func ReadSeed(r io.Reader) ([]quotation.Quotation, error) {
	var f seedFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("stubserver: decode seed: %w", err)
	}
	for i, q := range f.Quotations {
		if q.ID == "" {
			return nil, fmt.Errorf("stubserver: seed quotation %d has no id", i)
		}
		if q.Status == "" {
			f.Quotations[i].Status = quotation.StatusPending
		} else if !q.Status.Valid() {
			return nil, fmt.Errorf("stubserver: seed quotation %s: %w %q", q.ID, quotation.ErrInvalidStatus, q.Status)
		}
	}
	return f.Quotations, nil
}

func LoadSeedFile(path string) ([]quotation.Quotation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("stubserver: open seed: %w", err)
	}
	defer f.Close()
	return ReadSeed(f)
}

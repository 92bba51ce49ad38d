package dump

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/solatis/annotator/internal/types"
)

// Decode reads one JSON dump and links every record back to its file.
func Decode(r io.Reader) (*File, error) {
	var f File
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: dump: %v", types.ErrInvalidFact, err)
	}
	f.link()
	return &f, nil
}

// LoadFile decodes the JSON dump stored at path.
func LoadFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	f, err := Decode(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func (f *File) link() {
	for _, info := range f.Info {
		info.file = f
	}
	for _, t := range f.Threads {
		t.file = f
		for _, fr := range t.CallStack {
			fr.file = f
			fr.thread = t
		}
	}
}

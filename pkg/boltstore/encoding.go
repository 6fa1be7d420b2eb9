package boltstore

import (
	"bytes"
	"encoding/gob"

	"github.com/gaia-mud/gaia/pkg/world"
)

func init() {
	// Value is an interface; every concrete G value type must be registered
	// before it can cross a gob boundary.
	gob.Register(world.List{})
	gob.Register(world.Dict{})
	gob.Register(world.Ref(""))
	gob.Register(map[string]world.Value{})
	gob.Register([]world.Value{})
	gob.Register(float64(0))
	gob.Register(false)
	gob.Register("")
}

// document wraps a world object with its store revision.
type document struct {
	Rev string
	Obj world.Object
}

// accountDoc wraps an account with its store revision.
type accountDoc struct {
	Rev     string
	Account world.Account
}

func encodeDocument(d *document) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeDocument(data []byte) (*document, error) {
	var d document
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

func encodeAccountDoc(d *accountDoc) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeAccountDoc(data []byte) (*accountDoc, error) {
	var d accountDoc
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

// Package refs contains reference extractors for known state encodings.
package refs

import (
	"bytes"
	"errors"
	"io"
	"sort"
	"strconv"

	"github.com/go-json-experiment/json/jsontext"
	"github.com/zeebo/errs"

	"storj.io/relstore/objectdb"
	"storj.io/relstore/packundo"
)

// Error is the default refs errs class.
var Error = errs.Class("refs")

// RefKey is the member name that marks a JSON object as a reference.
const RefKey = "$ref"

var extractors = map[string]packundo.ReferencesFunc{
	"json": JSON,
	"none": None,
}

// Lookup returns the extractor registered under name.
func Lookup(name string) (packundo.ReferencesFunc, error) {
	fn, ok := extractors[name]
	if !ok {
		return nil, Error.New("unknown state format %q, known formats are %v", name, Names())
	}
	return fn, nil
}

// Names returns the registered extractor names.
func Names() []string {
	names := make([]string, 0, len(extractors))
	for name := range extractors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// None is the extractor for states that never reference other objects.
func None(state []byte) ([]objectdb.OID, error) { return nil, nil }

// JSON extracts the references of a JSON encoded state. A reference is a
// member `"$ref": n` with a non negative integer n, anywhere in the
// document.
func JSON(state []byte) ([]objectdb.OID, error) {
	dec := jsontext.NewDecoder(bytes.NewReader(state))

	var oids []objectdb.OID
	inRef := false
	for {
		tok, err := dec.ReadToken()
		if errors.Is(err, io.EOF) {
			return oids, nil
		}
		if err != nil {
			return nil, Error.Wrap(err)
		}

		if inRef {
			inRef = false
			if tok.Kind() != '0' {
				return nil, Error.New("%s must be a number, got %v", RefKey, tok.Kind())
			}
			oid, err := strconv.ParseUint(tok.String(), 10, 63)
			if err != nil {
				return nil, Error.New("invalid %s %s", RefKey, tok.String())
			}
			oids = append(oids, objectdb.OID(oid))
			continue
		}

		if tok.Kind() == '"' && isName(dec) && tok.String() == RefKey {
			inRef = true
		}
	}
}

// isName returns whether the last token read by dec was an object member
// name.
func isName(dec *jsontext.Decoder) bool {
	kind, length := dec.StackIndex(dec.StackDepth())
	return kind == '{' && length%2 == 1
}

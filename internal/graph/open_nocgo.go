//go:build !cgo

package graph

import "errors"

func openKuzuBackend(string) (Store, error) {
	return nil, errors.New("graph: the kuzu backend requires a cgo build")
}

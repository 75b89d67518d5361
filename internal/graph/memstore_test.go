package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemStore() })
}

func TestMemStore_GetDependenciesZeroDepth(t *testing.T) {
	s := NewMemStore()
	seedPayroll(t, s)
	chains, err := s.GetDependencies(context.Background(), "PAYROLL", "", DirectionOutgoing, 0)
	require.NoError(t, err)
	assert.Nil(t, chains)
}

func TestMemStore_AllKindsTraversal(t *testing.T) {
	s := NewMemStore()
	seedPayroll(t, s)
	chains, err := s.GetDependencies(context.Background(), "NIGHTLY", "", DirectionOutgoing, 3)
	require.NoError(t, err)

	reached := map[string]bool{}
	for _, c := range chains {
		reached[c.Nodes[len(c.Nodes)-1]] = true
	}
	for _, id := range []string{"NIGHTLY:STEP010", "PAYROLL", "DATEUTIL", "EMPREC", "PAYROLL:MAIN"} {
		assert.True(t, reached[id], id)
	}
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), "neo4j", "")
	assert.ErrorContains(t, err, "unknown backend")
}

package stixerr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "without cause",
			err:  &Error{Op: "Exporter.ExportEntity", Kind: KindNotFound},
			want: "stixgraph: Exporter.ExportEntity (not_found)",
		},
		{
			name: "with cause",
			err:  NewNotFoundError("Exporter.ExportEntity", ErrNotFound),
			want: "stixgraph: Exporter.ExportEntity (not_found): not found",
		},
		{
			name: "with stix id",
			err:  NewMappingError("Mapper.FromStix", ErrUnknownType).WithStixID("sighting--1"),
			want: "stixgraph: Mapper.FromStix (mapping) [sighting--1]: unknown object type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Is(t *testing.T) {
	err := NewMappingError("Mapper.FromStix", ErrUnknownType)
	wrapped := fmt.Errorf("import failed: %w", err)

	assert.True(t, errors.Is(wrapped, ErrUnknownType))
	assert.True(t, errors.Is(wrapped, &Error{Kind: KindMapping}))
	assert.True(t, errors.Is(wrapped, &Error{Kind: KindMapping, Op: "Mapper.FromStix"}))
	assert.False(t, errors.Is(wrapped, &Error{Kind: KindMapping, Op: "Mapper.ToStix"}))
	assert.False(t, errors.Is(wrapped, &Error{Kind: KindTimeout}))
	assert.False(t, err.Is(nil))
}

func TestError_WithStixIDCopies(t *testing.T) {
	base := NewUnresolvedReferenceError("Importer.importRelationship", ErrUnresolvedReference)
	bound := base.WithStixID("relationship--1")

	assert.Empty(t, base.StixID)
	assert.Equal(t, "relationship--1", bound.StixID)
}

func TestNewWriteFailureError_PromotesUnauthorized(t *testing.T) {
	err := NewWriteFailureError("Writer.UpsertEntity", fmt.Errorf("store: %w", ErrUnauthorized))
	assert.Equal(t, KindPermission, err.Kind)
	assert.True(t, IsFatal(err))

	err = NewWriteFailureError("Writer.UpsertEntity", errors.New("conflict"))
	assert.Equal(t, KindWriteFailure, err.Kind)
	assert.False(t, IsFatal(err))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindTimeout, KindOf(fmt.Errorf("x: %w", NewTimeoutError("op", context.DeadlineExceeded))))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestClassification(t *testing.T) {
	tests := []struct {
		kind  Kind
		class ErrorClass
	}{
		{KindPermission, ErrorClassInfrastructure},
		{KindConfiguration, ErrorClassInfrastructure},
		{KindMalformedBundle, ErrorClassSemantic},
		{KindMapping, ErrorClassSemantic},
		{KindUnresolvedReference, ErrorClassSemantic},
		{KindNotFound, ErrorClassPermanent},
		{KindTimeout, ErrorClassTransient},
		{KindWriteFailure, ErrorClassTransient},
		{Kind("other"), ErrorClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.class, DefaultClassForKind(tt.kind))
			assert.Equal(t, tt.class, ClassOf(New("op", tt.kind, nil)))
		})
	}
}

func TestIsFatal(t *testing.T) {
	require.False(t, IsFatal(nil))
	assert.True(t, IsFatal(context.DeadlineExceeded))
	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.True(t, IsFatal(ErrUnauthorized))
	assert.False(t, IsFatal(errors.New("transient")))
	assert.True(t, IsFatal(NewWriteFailureError("op", errors.New("x")).WithClass(ErrorClassInfrastructure)))
}

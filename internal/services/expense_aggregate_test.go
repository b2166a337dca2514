package services

import (
	"context"
	"errors"
	"testing"

	"finplan/internal/core"
	"finplan/internal/storage"
	"finplan/internal/storage/memory"
)

type fixedSource struct {
	name string
	sum  core.Money
	err  error
}

func (s fixedSource) Name() string { return s.name }

func (s fixedSource) Total(context.Context, storage.Queries, Period) (core.Money, error) {
	return s.sum, s.err
}

func TestExpenseAggregate_Total(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		sources []ExpenseSource
		want    int64
		wantErr bool
	}{
		{"no sources", nil, 0, false},
		{"sums every source", []ExpenseSource{fixedSource{"a", cents(100), nil}, fixedSource{"b", cents(250), nil}}, 350, false},
		{"source failure", []ExpenseSource{fixedSource{"a", cents(100), nil}, fixedSource{"b", core.Money{}, boom}}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewExpenseAggregate(tt.sources...).Total(context.Background(), memory.New(), march(1))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Total() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, boom) {
					t.Errorf("error %v does not wrap source failure", err)
				}
				return
			}
			if got.Total.Cents != tt.want {
				t.Errorf("Total() = %d, want %d", got.Total.Cents, tt.want)
			}
		})
	}
}

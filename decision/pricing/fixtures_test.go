package pricing

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/units"
)

func rec(name string, unit units.Unit, price int64, keywords ...string) api.PriceRecord {
	return api.PriceRecord{
		ItemName:  name,
		ItemCode:  "SOR-" + string(unit),
		Keywords:  keywords,
		Unit:      unit,
		UnitPrice: decimal.NewFromInt(price),
		Source:    "state-sor-2023",
		Official:  true,
	}
}

func fixtureDataset() *ReferenceDataset {
	return NewReferenceDataset([]api.PriceRecord{
		rec("Thermoplastic road marking paint", units.UnitKg, 140, "hot applied"),
		rec("Glass beads (drop-on)", units.UnitKg, 110),
		rec("Road stud (raised pavement marker)", units.UnitNos, 320, "cat eye"),
		rec("Cold mix asphalt", units.UnitCum, 9000),
		rec("Retro-reflective sheeting (Type XI)", units.UnitSqm, 1800),
		rec("Interlocking paver block 60 mm", units.UnitSqm, 700),
		rec("Epoxy adhesive for road studs", units.UnitKg, 850),
		rec("Thermoplastic primer", units.UnitLitre, 260),
	})
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FindExact(_ context.Context, name string, unit units.Unit) (*api.PriceRecord, error) {
	args := m.Called(name, unit)
	r, _ := args.Get(0).(*api.PriceRecord)
	return r, args.Error(1)
}

func (m *mockStore) Upsert(_ context.Context, r api.PriceRecord) error {
	return m.Called(r).Error(0)
}

type fakeSource struct {
	name  string
	cands []Candidate
	err   error
	calls int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Search(context.Context, string) ([]Candidate, error) {
	f.calls++
	return f.cands, f.err
}

type fakeGenerator struct {
	reply string
	err   error
}

func (f fakeGenerator) Generate(context.Context, string) (string, error) {
	return f.reply, f.err
}

var errBoom = errors.New("boom")

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func tripLink(trip, from, to string) PathLink {
	return PathLink{Kind: LinkTrip, FromID: from, ToID: to, TripID: trip, Mode: "bus"}
}

func TestPathDescribe(t *testing.T) {
	p := Path{Links: []PathLink{
		{Kind: LinkAccess, FromID: "Z1", ToID: "S1", Mode: "walk"},
		tripLink("T7", "S1", "S2"),
		{Kind: LinkEgress, FromID: "S2", ToID: "Z2", Mode: "walk"},
	}}
	assert.Equal(t, "access:Z1>S1 trip:S1>S2@T7 egress:S2>Z2", p.Describe())

	// same stops on a different vehicle is a different journey
	q := Path{Links: []PathLink{
		{Kind: LinkAccess, FromID: "Z1", ToID: "S1", Mode: "walk"},
		tripLink("T8", "S1", "S2"),
		{Kind: LinkEgress, FromID: "S2", ToID: "Z2", Mode: "walk"},
	}}
	assert.NotEqual(t, p.Describe(), q.Describe())
}

func TestPathBumped(t *testing.T) {
	p := Path{Links: []PathLink{tripLink("T1", "A", "B")}}
	assert.False(t, p.Bumped())

	iter := 2
	p.Links[0].BumpIter = &iter
	assert.True(t, p.Bumped())
}

func TestChosenStatusOrdering(t *testing.T) {
	assert.True(t, StatusUnchosen < StatusRejected)
	assert.True(t, StatusRejected < StatusChosen)
}

func TestBoardState(t *testing.T) {
	tests := []struct {
		state    BoardState
		name     string
		isBumped bool
	}{
		{BoardUnset, "unset", false},
		{BoardEasy, "board_easy", false},
		{Boarded, "boarded", false},
		{Bumped, "bumped", true},
		{BumpedOtherTrip, "bumped_othertrip", true},
		{BumpedUnchosen, "bumped_unchosen", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.state.String())
			assert.Equal(t, tt.isBumped, tt.state.IsBumped())
		})
	}
}

func TestPathSetChosen(t *testing.T) {
	ps := PathSet{PersonTripID: 1, Paths: []Path{
		{Chosen: StatusRejected},
		{Chosen: StatusChosen},
	}}
	assert.Equal(t, 1, ps.Chosen())

	ps.Paths[1].Chosen = StatusUnchosen
	assert.Equal(t, -1, ps.Chosen())
}

func TestPathSetValidate(t *testing.T) {
	t.Run("two chosen paths", func(t *testing.T) {
		ps := PathSet{PersonTripID: 3, Paths: []Path{
			{Chosen: StatusChosen},
			{Chosen: StatusChosen},
		}}
		err := ps.Validate()
		assert.Error(t, err)
		var ce *ConsistencyError
		assert.ErrorAs(t, err, &ce)
	})

	t.Run("bumped state without iteration", func(t *testing.T) {
		ps := PathSet{PersonTripID: 4, Paths: []Path{
			{Links: []PathLink{{Kind: LinkTrip, BoardState: Bumped}}},
		}}
		assert.Error(t, ps.Validate())
	})

	t.Run("valid set", func(t *testing.T) {
		iter := 0
		ps := PathSet{PersonTripID: 5, Paths: []Path{
			{Chosen: StatusChosen, Links: []PathLink{
				{Kind: LinkTrip, BoardState: Bumped, BumpIter: &iter},
			}},
		}}
		assert.NoError(t, ps.Validate())
	})
}

func TestBumpRecordTable(t *testing.T) {
	tbl := NewBumpRecordTable()
	assert.Equal(t, 0, tbl.Len())

	tbl.Record("T1", "S1", 12.0)
	tbl.Record("T1", "S1", 8.0)  // earlier wait wins
	tbl.Record("T1", "S1", 15.0) // later wait ignored
	tbl.Record("T2", "S1", 3.0)

	wait, ok := tbl.Lookup("T1", "S1")
	assert.True(t, ok)
	assert.Equal(t, 8.0, wait)
	assert.Equal(t, 2, tbl.Len())

	_, ok = tbl.Lookup("T1", "S9")
	assert.False(t, ok)

	tbl.Reset()
	assert.Equal(t, 0, tbl.Len())
}

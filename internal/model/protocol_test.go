package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func datePtr(s string) *time.Time {
	t := date(s)
	return &t
}

func TestDeriveStatus(t *testing.T) {
	asOf := date("2026-03-10")

	tests := []struct {
		name     string
		protocol Protocol
		want     ProtocolStatus
	}{
		{
			name:     "sessions remaining",
			protocol: Protocol{ProgramType: ProgramHBOT, TotalSessions: intPtr(10), SessionsUsed: 9},
			want:     ProtocolStatusActive,
		},
		{
			name:     "sessions exhausted",
			protocol: Protocol{ProgramType: ProgramHBOT, TotalSessions: intPtr(10), SessionsUsed: 10},
			want:     ProtocolStatusCompleted,
		},
		{
			name:     "end date today is still active",
			protocol: Protocol{ProgramType: ProgramPeptide, EndDate: datePtr("2026-03-10")},
			want:     ProtocolStatusActive,
		},
		{
			name:     "end date passed",
			protocol: Protocol{ProgramType: ProgramPeptide, EndDate: datePtr("2026-03-09")},
			want:     ProtocolStatusCompleted,
		},
		{
			name:     "hrt does not expire by date",
			protocol: Protocol{ProgramType: ProgramHRT, EndDate: datePtr("2026-01-01")},
			want:     ProtocolStatusActive,
		},
		{
			name:     "weight loss exhausted",
			protocol: Protocol{ProgramType: ProgramWeightLoss, TotalSessions: intPtr(4), SessionsUsed: 4},
			want:     ProtocolStatusCompleted,
		},
		{
			name:     "unbounded without end date",
			protocol: Protocol{ProgramType: ProgramVitamin},
			want:     ProtocolStatusActive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(&tt.protocol, asOf))
		})
	}
}

func TestReconcileStatus(t *testing.T) {
	asOf := date("2026-03-10")

	// completed by sessions, a session was removed
	p := &Protocol{ProgramType: ProgramHBOT, TotalSessions: intPtr(10), SessionsUsed: 9, Status: ProtocolStatusCompleted}
	assert.Equal(t, ProtocolStatusActive, ReconcileStatus(p, asOf))

	// completed by date stays completed
	p = &Protocol{ProgramType: ProgramPeptide, TotalSessions: intPtr(10), SessionsUsed: 3,
		EndDate: datePtr("2026-02-01"), Status: ProtocolStatusCompleted}
	assert.Equal(t, ProtocolStatusCompleted, ReconcileStatus(p, asOf))

	// active protocols only look at sessions
	p = &Protocol{ProgramType: ProgramPeptide, EndDate: datePtr("2026-02-01"), Status: ProtocolStatusActive}
	assert.Equal(t, ProtocolStatusActive, ReconcileStatus(p, asOf))
}

func TestSessionsRemaining(t *testing.T) {
	assert.Nil(t, (&Protocol{}).SessionsRemaining())

	p := &Protocol{TotalSessions: intPtr(5), SessionsUsed: 2}
	require.NotNil(t, p.SessionsRemaining())
	assert.Equal(t, 3, *p.SessionsRemaining())

	p.SessionsUsed = 7
	assert.Equal(t, 0, *p.SessionsRemaining())
}

func TestAppendNote(t *testing.T) {
	p := &Protocol{}
	p.AppendNote(date("2026-01-05"), "Added 5 sessions")
	require.NotNil(t, p.Notes)
	assert.Equal(t, "[2026-01-05] Added 5 sessions", *p.Notes)

	p.AppendNote(date("2026-01-06"), "Extended")
	assert.Equal(t, "[2026-01-05] Added 5 sessions\n\n[2026-01-06] Extended", *p.Notes)
}

func TestClone_DoesNotShare(t *testing.T) {
	p := &Protocol{TotalSessions: intPtr(5), EndDate: datePtr("2026-01-01"), Notes: stringPtr("a")}
	c := p.Clone()
	*c.TotalSessions = 9
	*c.Notes = "b"
	*c.EndDate = date("2027-01-01")

	assert.Equal(t, 5, *p.TotalSessions)
	assert.Equal(t, "a", *p.Notes)
	assert.Equal(t, date("2026-01-01"), *p.EndDate)
}

func TestParseProgramType(t *testing.T) {
	tests := []struct {
		in   string
		want ProgramType
		ok   bool
	}{
		{"hrt", ProgramHRT, true},
		{" Testosterone ", ProgramHRT, true},
		{"TRT", ProgramHRT, true},
		{"weight-loss", ProgramWeightLoss, true},
		{"Weight Loss", ProgramWeightLoss, true},
		{"rlt", ProgramRedLight, true},
		{"hormone replacement", "", false},
		{"iv drip", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProgramType(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestProgramTypeRules(t *testing.T) {
	assert.ElementsMatch(t, []ProgramType{ProgramHRT, ProgramWeightLoss}, NonExpiringProgramTypes())
	assert.True(t, ProgramWeightLoss.RequiresFollowUpLabs())
	assert.False(t, ProgramHBOT.RequiresFollowUpLabs())
	assert.True(t, ProgramIVTherapy.ExpiresByDate())

	pt, ok := ProgramTypeForCategory("Testosterone")
	assert.True(t, ok)
	assert.Equal(t, ProgramHRT, pt)

	_, ok = ProgramTypeForCategory("massage")
	assert.False(t, ok)
	assert.Contains(t, ServiceCategories(), "red_light")
}

func TestDateHelpers(t *testing.T) {
	assert.Equal(t, 56, DaysBetween(date("2026-01-05"), date("2026-03-02")))
	assert.Equal(t, -1, DaysBetween(date("2026-01-05"), date("2026-01-04")))

	late := time.Date(2026, 1, 5, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, date("2026-01-05"), DateOf(late))

	_, err := ParseDate("01/05/2026")
	assert.Error(t, err)
}

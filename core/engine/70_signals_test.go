package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestParseSignal(t *testing.T) {
	cases := map[string]struct {
		spec    string
		want    Signal
		wantErr string
	}{
		"name":       {spec: "TERM", want: SigTerm},
		"prefixed":   {spec: "SIGKILL", want: Signal{Name: "KILL", Number: unix.SIGKILL}},
		"lower case": {spec: "sigint", want: Signal{Name: "INT", Number: unix.SIGINT}},
		"number":     {spec: "9", want: Signal{Name: "KILL", Number: unix.SIGKILL}},
		"unknown":    {spec: "BOGUS", wantErr: "BOGUS: invalid signal specification"},
		"zero":       {spec: "0", wantErr: "0: invalid signal specification"},
		"negative":   {spec: "-1", wantErr: "-1: invalid signal specification"},
	}

	for tn, tc := range cases {
		t.Run(tn, func(t *testing.T) {
			got, err := ParseSignal(tc.spec)
			if tc.wantErr != "" {
				assert.EqualError(t, err, tc.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSignals(t *testing.T) {
	signals := Signals()
	if assert.NotEmpty(t, signals) {
		assert.Equal(t, Signal{Name: "HUP", Number: unix.SIGHUP}, signals[0])
	}
	assert.Contains(t, signals, SigTerm)

	for i := 1; i < len(signals); i++ {
		assert.Less(t, int(signals[i-1].Number), int(signals[i].Number))
	}
}

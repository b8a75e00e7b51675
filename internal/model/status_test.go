package model

import "testing"

func TestDeriveProtectionStatus(t *testing.T) {
	cases := []struct {
		name      string
		scanning  bool
		anyActive bool
		realtime  bool
		want      ProtectionStatus
	}{
		{"scanning wins over threats", true, true, true, StatusScanning},
		{"scanning wins over disabled realtime", true, false, false, StatusScanning},
		{"active threat beats realtime", false, true, true, StatusAtRisk},
		{"active threat with realtime off", false, true, false, StatusAtRisk},
		{"quiet with realtime on", false, false, true, StatusProtected},
		{"quiet with realtime off", false, false, false, StatusNotProtected},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := DeriveProtectionStatus(c.scanning, c.anyActive, c.realtime)
			if got != c.want {
				t.Errorf("DeriveProtectionStatus(%v, %v, %v) = %s, want %s",
					c.scanning, c.anyActive, c.realtime, got, c.want)
			}
		})
	}
}

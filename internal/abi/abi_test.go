package abi

import "testing"

func TestNVRMaskCoversPinnedRegisters(t *testing.T) {
	a := For(SystemV)
	mask := a.NVRMask()
	for _, r := range []Reg{a.TC, a.Work, a.Args, a.Env} {
		if mask&(1<<uint(r)) == 0 {
			t.Fatalf("NVRMask missing pinned register %s", r)
		}
	}
}

func TestGPRPoolExcludesReservedRegisters(t *testing.T) {
	a := For(SystemV)
	reserved := map[Reg]bool{
		a.TC: true, a.Work: true, a.Args: true, a.Env: true,
		RSP: true, RBP: true, a.Function: true,
	}
	for _, r := range a.GPRPool() {
		if reserved[Reg(r)] {
			t.Fatalf("GPRPool contains reserved register %s", Reg(r))
		}
	}
}

func TestGPRPoolHasNoDuplicates(t *testing.T) {
	a := For(Win64)
	seen := map[int8]bool{}
	for _, r := range a.GPRPool() {
		if seen[r] {
			t.Fatalf("GPRPool contains duplicate register %d", r)
		}
		seen[r] = true
	}
}

func TestConventionsDivergeOnlyInArgRegsAndShadowSpace(t *testing.T) {
	sysv := For(SystemV)
	win := For(Win64)

	if sysv.TC != win.TC || sysv.Work != win.Work || sysv.Args != win.Args || sysv.Env != win.Env {
		t.Fatal("VM-pinned registers must be identical across calling conventions")
	}
	if win.ShadowSpace != 32 {
		t.Fatalf("Win64 shadow space = %d, want 32", win.ShadowSpace)
	}
	if sysv.ShadowSpace != 0 {
		t.Fatalf("SystemV shadow space = %d, want 0", sysv.ShadowSpace)
	}
	if len(win.IntArgs) >= len(sysv.IntArgs) {
		t.Fatalf("Win64 has %d int arg registers, SystemV has %d; Win64 should have fewer",
			len(win.IntArgs), len(sysv.IntArgs))
	}
}

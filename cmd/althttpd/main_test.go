package main

import "testing"

func TestRunDateTestSucceeds(t *testing.T) {
	if err := runDateTest(); err != nil {
		t.Fatalf("runDateTest: %v", err)
	}
}

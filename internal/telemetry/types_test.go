package telemetry

import (
	"math"
	"reflect"
	"testing"
)

func TestHasCoordinate(t *testing.T) {
	good := DeviceInfo{Coordinate: [2]float64{22.3, 114.1}}
	if !good.HasCoordinate() {
		t.Error("finite coordinate rejected")
	}
	if (DeviceInfo{Coordinate: [2]float64{math.NaN(), 114.1}}).HasCoordinate() {
		t.Error("NaN coordinate accepted")
	}
	if (DeviceInfo{Coordinate: [2]float64{22.3, math.Inf(-1)}}).HasCoordinate() {
		t.Error("infinite coordinate accepted")
	}
}

func TestDirectory(t *testing.T) {
	d := NewDirectory()
	d.Set(DeviceList{
		Items: []DeviceInfo{
			{DeviceID: "a", Location: "HK"},
			{DeviceID: "b", Location: "MO"},
		},
		Grants: [][]string{{"Temp", "Hum"}}, // shorter than items
	})

	items := d.Items()
	if len(items) != 2 {
		t.Fatalf("items = %v", items)
	}

	if got := d.GrantsFor("a"); !reflect.DeepEqual(got, []string{"Temp", "Hum"}) {
		t.Errorf("GrantsFor(a) = %v", got)
	}
	// Missing grant rows read as empty, not as a panic.
	if got := d.GrantsFor("b"); len(got) != 0 {
		t.Errorf("GrantsFor(b) = %v", got)
	}
	if got := d.GrantsFor("unknown"); len(got) != 0 {
		t.Errorf("GrantsFor(unknown) = %v", got)
	}

	// Snapshots are copies.
	items[0].DeviceID = "mutated"
	if d.Items()[0].DeviceID != "a" {
		t.Error("directory mutated through snapshot")
	}
}

func TestLatest(t *testing.T) {
	l := NewLatest()
	if keys := l.Keys(); len(keys) != 0 {
		t.Fatalf("fresh latest has keys: %v", keys)
	}

	l.Set(map[string]Reading{
		"Chiller": {"Temp": 7.0},
		"AHU":     {"Temp": 21.0},
	})

	keys := l.Keys()
	if !reflect.DeepEqual(keys, []string{"AHU", "Chiller"}) {
		t.Errorf("Keys = %v, want sorted", keys)
	}

	r, ok := l.Get("AHU")
	if !ok || r["Temp"].(float64) != 21.0 {
		t.Errorf("Get(AHU) = %v, %v", r, ok)
	}
	if _, ok := l.Get("missing"); ok {
		t.Error("Get(missing) = true")
	}
}

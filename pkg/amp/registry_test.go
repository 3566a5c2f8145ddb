package amp

import "testing"

func TestRegistry(t *testing.T) {
	reachable := Info{
		Name:      "reachable",
		Available: func() bool { return true },
		New:       func() Amplifier { return nil },
	}
	unreachable := Info{
		Name:      "unreachable",
		Available: func() bool { return false },
		New:       func() Amplifier { return nil },
	}
	Register(reachable)
	Register(unreachable)

	if _, err := Lookup("nope"); err == nil {
		t.Error("Lookup of unregistered driver must fail")
	}
	info, err := Lookup("reachable")
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "reachable" {
		t.Errorf("Lookup name = %q", info.Name)
	}

	// Other tests register into the same process-global registry, so
	// assert membership and ordering, not exact cardinality.
	names := make(map[string]bool)
	var prev string
	for _, d := range Drivers() {
		if d.Name < prev {
			t.Errorf("Drivers() not sorted: %q after %q", d.Name, prev)
		}
		prev = d.Name
		names[d.Name] = true
	}
	if !names["reachable"] || !names["unreachable"] {
		t.Errorf("Drivers() missing registered entries: %v", names)
	}

	avail := make(map[string]bool)
	for _, name := range Available() {
		avail[name] = true
	}
	if !avail["reachable"] {
		t.Error("Available() missing reachable driver")
	}
	if avail["unreachable"] {
		t.Error("Available() lists unreachable driver")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	info := Info{
		Name:      "dup",
		Available: func() bool { return true },
		New:       func() Amplifier { return nil },
	}
	Register(info)

	defer func() {
		if recover() == nil {
			t.Error("duplicate Register must panic")
		}
	}()
	Register(info)
}

package dcop

import (
	"errors"
	"testing"
)

func TestParseMessageKinds(t *testing.T) {
	cases := []struct {
		payload string
		kind    Kind
		sender  AgentID
		root    AgentID
	}{
		{"ON", KindOn, 0, 0},
		{"ROOT_4", KindRoot, 0, 4},
		{"CHILD 12", KindChild, 12, 0},
		{"PSEUDO 3", KindPseudo, 3, 0},
		{"URGT_7", KindUrgent, 7, 0},
	}
	for _, c := range cases {
		m, err := ParseMessage(c.payload)
		if err != nil {
			t.Fatalf("ParseMessage(%q): %v", c.payload, err)
		}
		if m.Kind != c.kind || m.Sender != c.sender || m.Root != c.root {
			t.Errorf("ParseMessage(%q) = %+v", c.payload, m)
		}
	}
}

func TestParseMessageValues(t *testing.T) {
	m, err := ParseMessage(`VALUES {"1":3,"Z2":0}`)
	if err != nil {
		t.Fatal(err)
	}
	if m.Kind != KindValues {
		t.Fatalf("kind = %v", m.Kind)
	}
	if idx, ok := m.Values.Get(1); !ok || idx != 3 {
		t.Errorf("values[1] = %d, %v", idx, ok)
	}
	if idx, ok := m.Values.Get(2); !ok || idx != 0 {
		t.Errorf("values[Z2] = %d, %v", idx, ok)
	}
}

func TestParseMessageMalformed(t *testing.T) {
	var malformed *ErrMalformed
	for _, payload := range []string{
		"",
		"HELLO",
		"CHILD x",
		"ROOT_",
		"VALUES not-json",
		"URGT_-3",
	} {
		if _, err := ParseMessage(payload); !errors.As(err, &malformed) {
			t.Errorf("ParseMessage(%q): got %v, want ErrMalformed", payload, err)
		}
	}
}

func TestEncodeDecodeSymmetry(t *testing.T) {
	for _, payload := range []string{
		EncodeOn(),
		EncodeRoot(9),
		EncodeChild(2),
		EncodePseudo(5),
		EncodeUrgent(1),
		EncodeValues(Assignment{"1": 16}),
	} {
		if _, err := ParseMessage(payload); err != nil {
			t.Errorf("ParseMessage(%q): %v", payload, err)
		}
	}
}

func TestBidRoundTrip(t *testing.T) {
	b, err := ParseBid(EncodeBid(Bid{ID: 7, Degree: 3}))
	if err != nil {
		t.Fatal(err)
	}
	if b.ID != 7 || b.Degree != 3 {
		t.Errorf("got %+v", b)
	}

	var malformed *ErrMalformed
	for _, payload := range []string{"7", "x:1", "7:x", "7:-1"} {
		if _, err := ParseBid(payload); !errors.As(err, &malformed) {
			t.Errorf("ParseBid(%q): got %v, want ErrMalformed", payload, err)
		}
	}
}

func TestAssignmentCovers(t *testing.T) {
	a := Assignment{"1": 0, "Z2": 4}
	if !a.Covers([]AgentID{1, 2}) {
		t.Error("want covered")
	}
	if a.Covers([]AgentID{1, 2, 3}) {
		t.Error("agent 3 must not be covered")
	}
}

package model

import (
	"encoding/json"
	"testing"
)

func TestItemOmitsEmptyID(t *testing.T) {
	data, err := json.Marshal(NewItem("Alf alarm clock", "nothing important", 19.99))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"name":"Alf alarm clock","description":"nothing important","price":19.99}` {
		t.Fatalf("unexpected encoding: %s", data)
	}
}

func TestSameContent(t *testing.T) {
	a := NewItem("a", "b", 1.5)
	b := a
	b.ID = "0192"
	if !a.SameContent(b) {
		t.Fatal("expect same content regardless of id")
	}
	if a.Persisted() || !b.Persisted() {
		t.Fatal("Persisted should follow the id")
	}
	b.Price = 2
	if a.SameContent(b) {
		t.Fatal("expect price difference to matter")
	}
}

package firestore

import (
	"testing"

	"github.com/m-mizutani/gt"
)

func TestDocID(t *testing.T) {
	t.Run("separator inside a part does not collide", func(t *testing.T) {
		a := docID("a__b", "c")
		b := docID("a", "b__c")
		gt.Value(t, a).NotEqual(b)
		gt.Value(t, a).Equal("a%5F%5Fb__c")
		gt.Value(t, b).Equal("a__b%5F%5Fc")
	})

	t.Run("slash is escaped", func(t *testing.T) {
		gt.Value(t, docID("idp:1/2")).Equal("idp:1%2F2")
	})

	t.Run("distinct keys stay distinct", func(t *testing.T) {
		keys := [][2]string{
			{"C_1", "U1"},
			{"C", "1__U1"},
			{"C_", "_U1"},
			{"C__", "U1"},
		}
		seen := map[string]bool{}
		for _, k := range keys {
			id := docID(k[0], k[1])
			gt.Bool(t, seen[id]).False()
			seen[id] = true
		}
	})
}

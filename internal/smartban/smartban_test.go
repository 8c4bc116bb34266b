package smartban

import "testing"

func TestJudgeBansMismatchedPeer(t *testing.T) {
	r := New()
	final := []byte("0123456789abcdef")
	r.RecordBlock(0, "good", BlockSpan{Begin: 0, Data: []byte("01234567")})
	r.RecordBlock(0, "bad", BlockSpan{Begin: 8, Data: []byte("XXXXXXXX")})

	bad := r.Judge(0, final)
	if len(bad) != 1 || bad[0] != "bad" {
		t.Fatalf("expected only 'bad' to be banned, got %v", bad)
	}
}

func TestJudgeNoFinalDataBansNobody(t *testing.T) {
	r := New()
	r.RecordBlock(0, "peer", BlockSpan{Begin: 0, Data: []byte("x")})
	if bad := r.Judge(0, nil); bad != nil {
		t.Fatalf("expected no bans without a verified copy, got %v", bad)
	}
}

func TestForgetDropsBookkeeping(t *testing.T) {
	r := New()
	r.RecordBlock(0, "peer", BlockSpan{Begin: 0, Data: []byte("x")})
	r.Forget(0)
	if bad := r.Judge(0, []byte("x")); bad != nil {
		t.Fatalf("expected no contributors after Forget, got %v", bad)
	}
}

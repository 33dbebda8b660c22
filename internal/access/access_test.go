package access

import (
	"testing"
	"time"
)

func newTestGate(ttl time.Duration) (*Gate, *time.Time) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	g := &Gate{
		challenges: make(map[int64]challenge),
		ttl:        ttl,
		now:        func() time.Time { return current },
	}

	return g, &current
}

func TestIssueChallenge_SixDigits(t *testing.T) {
	g, _ := newTestGate(10 * time.Minute)

	password, err := g.IssueChallenge(1)
	if err != nil {
		t.Fatalf("IssueChallenge error: %v", err)
	}
	if len(password) != 6 {
		t.Fatalf("password length = %d, want 6", len(password))
	}
	for _, c := range password {
		if c < '0' || c > '9' {
			t.Fatalf("password %q contains non-digit", password)
		}
	}
}

func TestAttempt_CorrectPasswordConsumesChallenge(t *testing.T) {
	g, _ := newTestGate(10 * time.Minute)

	password, err := g.IssueChallenge(1)
	if err != nil {
		t.Fatalf("IssueChallenge error: %v", err)
	}

	if res := g.Attempt(1, password); res != Granted {
		t.Fatalf("Attempt with correct password = %v, want Granted", res)
	}

	// Вызов погашен, повторное использование невозможно.
	if res := g.Attempt(1, password); res != Expired {
		t.Fatalf("reused password = %v, want Expired", res)
	}
}

func TestAttempt_WrongPasswordKeepsChallenge(t *testing.T) {
	g, _ := newTestGate(10 * time.Minute)

	password, err := g.IssueChallenge(1)
	if err != nil {
		t.Fatalf("IssueChallenge error: %v", err)
	}

	if res := g.Attempt(1, "000000x"); res != Denied {
		t.Fatalf("wrong password = %v, want Denied", res)
	}

	if res := g.Attempt(1, password); res != Granted {
		t.Fatalf("correct password after a wrong attempt = %v, want Granted", res)
	}
}

func TestAttempt_ExpiredChallenge(t *testing.T) {
	g, current := newTestGate(10 * time.Minute)

	password, err := g.IssueChallenge(1)
	if err != nil {
		t.Fatalf("IssueChallenge error: %v", err)
	}

	*current = current.Add(10*time.Minute + time.Second)

	if res := g.Attempt(1, password); res != Expired {
		t.Fatalf("expired challenge = %v, want Expired", res)
	}

	// Истечение гасит запись, даже верный пароль больше не принимается.
	if res := g.Attempt(1, password); res != Expired {
		t.Fatalf("attempt after expiry = %v, want Expired", res)
	}
}

func TestAttempt_WithoutChallenge(t *testing.T) {
	g, _ := newTestGate(10 * time.Minute)

	if res := g.Attempt(7, "123456"); res != Expired {
		t.Fatalf("attempt without challenge = %v, want Expired", res)
	}
}

func TestIssueChallenge_ReplacesPrevious(t *testing.T) {
	g, _ := newTestGate(10 * time.Minute)

	first, err := g.IssueChallenge(1)
	if err != nil {
		t.Fatalf("IssueChallenge error: %v", err)
	}

	var second string
	// Пароли случайны; добиваемся отличия повторной выдачей.
	for i := 0; i < 50; i++ {
		second, err = g.IssueChallenge(1)
		if err != nil {
			t.Fatalf("IssueChallenge error: %v", err)
		}
		if second != first {
			break
		}
	}
	if second == first {
		t.Skip("could not roll a distinct password")
	}

	if res := g.Attempt(1, first); res != Denied {
		t.Fatalf("old password = %v, want Denied after reissue", res)
	}
	if res := g.Attempt(1, second); res != Granted {
		t.Fatalf("new password = %v, want Granted", res)
	}
}

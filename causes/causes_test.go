package causes_test

import (
	"strings"
	"testing"

	"github.com/mickamy/tagvault/causes"
)

func TestCauseStringKnownValues(t *testing.T) {
	t.Parallel()
	cases := map[causes.Cause]string{
		causes.AddEntry:    "ADD_ENTRY",
		causes.GetTags:     "GET_TAGS",
		causes.Login:       "LOGIN",
		causes.Unregister:  "UNREGISTER",
		causes.GetContent:  "GET_CONTENT",
	}
	for c, want := range cases {
		if got := c.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int32(c), got, want)
		}
	}
}

func TestCauseStringUnknown(t *testing.T) {
	t.Parallel()
	got := causes.Cause(999).String()
	if !strings.Contains(got, "999") {
		t.Fatalf("got %q, want it to mention the unknown value 999", got)
	}
}

func TestReplyString(t *testing.T) {
	t.Parallel()
	if got := causes.NoError.String(); got != "NO_ERROR" {
		t.Fatalf("got %q, want NO_ERROR", got)
	}
	if got := causes.Error.String(); got != "ERROR" {
		t.Fatalf("got %q, want ERROR", got)
	}
}

func TestCausesArePairwiseDistinct(t *testing.T) {
	t.Parallel()
	all := []causes.Cause{
		causes.AddEntry, causes.AddEntryNoCheck, causes.GetEntry, causes.DeleteEntry,
		causes.DeleteNoReturn, causes.Exists, causes.GetTags, causes.Length,
		causes.SetContent, causes.GetContent, causes.InitialClient, causes.InitialObserver,
		causes.Login, causes.Register, causes.Unregister, causes.LoginSuccessful,
		causes.LoginFailedWrongName, causes.LoginFailedWrongPassword, causes.RegisterSuccessful,
		causes.RegisterFailedUserNameTaken,
	}
	seen := make(map[causes.Cause]bool, len(all))
	for _, c := range all {
		if seen[c] {
			t.Fatalf("duplicate cause value %d (%s)", int32(c), c)
		}
		seen[c] = true
	}
}

func TestErrorI64SignExtendsError(t *testing.T) {
	t.Parallel()
	if causes.ErrorI64 != int64(causes.Error) {
		t.Fatalf("got %d, want %d", causes.ErrorI64, int64(causes.Error))
	}
}

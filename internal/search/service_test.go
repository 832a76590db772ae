package search

import (
	"context"
	"strings"
	"testing"

	"github.com/dukepan/muclumbus/internal/crawlerr"
	"github.com/dukepan/muclumbus/internal/store"
)

func strp(s string) *string { return &s }

func TestSearchReturnsUnavailableBeforeMarkReady(t *testing.T) {
	svc := New(newFakeStore())
	_, err := svc.Search(context.Background(), Request{})
	if !crawlerr.OfKind(err, crawlerr.KindUnavailable) {
		t.Fatalf("expected an unavailable error, got %v", err)
	}
}

func TestSearchWithNoFormOrPagingReturnsTemplate(t *testing.T) {
	svc := New(newFakeStore())
	svc.MarkReady()

	resp, err := svc.Search(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !resp.Template {
		t.Fatal("expected an empty form template response")
	}
}

func TestSearchRejectsQueryTooLong(t *testing.T) {
	svc := New(newFakeStore())
	svc.MarkReady()

	long := strings.Repeat("a", 1025)
	_, err := svc.Search(context.Background(), Request{Form: &Form{Query: long, ScopeName: true}})
	if !crawlerr.OfKind(err, crawlerr.KindValidation) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestSearchRejectsEmptyScope(t *testing.T) {
	svc := New(newFakeStore())
	svc.MarkReady()

	_, err := svc.Search(context.Background(), Request{Form: &Form{Query: "foo bar"}})
	if !crawlerr.OfKind(err, crawlerr.KindValidation) {
		t.Fatalf("expected a validation error for an empty scope, got %v", err)
	}
}

func TestSearchRejectsTooManyKeywords(t *testing.T) {
	svc := New(newFakeStore())
	svc.MarkReady()

	_, err := svc.Search(context.Background(), Request{
		Form: &Form{Query: "aaa bbb ccc ddd eee fff", ScopeName: true},
	})
	if !crawlerr.OfKind(err, crawlerr.KindValidation) {
		t.Fatalf("expected a validation error for too many keywords, got %v", err)
	}
}

func TestSearchRejectsUnsupportedRSMFeatures(t *testing.T) {
	svc := New(newFakeStore())
	svc.MarkReady()

	_, err := svc.Search(context.Background(), Request{
		Form:   &Form{ScopeName: true},
		Paging: &Paging{Before: true},
	})
	if !crawlerr.OfKind(err, crawlerr.KindValidation) {
		t.Fatalf("expected a validation error for unsupported RSM, got %v", err)
	}
}

func TestSearchReturnAllWhenQueryEmpty(t *testing.T) {
	fs := newFakeStore(
		store.SearchResult{Address: "a@conf.example", IsOpen: true, Name: strp("Room A"), NUsersMovingAverage: 30},
		store.SearchResult{Address: "b@conf.example", IsOpen: true, Name: strp("Room B"), NUsersMovingAverage: 20},
	)
	svc := New(fs)
	svc.MarkReady()

	resp, err := svc.Search(context.Background(), Request{Form: &Form{}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(resp.Items))
	}
	if resp.Items[0].NUsers != 30 || resp.Items[1].NUsers != 20 {
		t.Fatalf("unexpected nusers rounding: %+v", resp.Items)
	}
	if resp.Last != "20" {
		t.Fatalf("expected rsm.last = 20, got %q", resp.Last)
	}
}

func TestSearchOrderByAddressUsesAddressCursor(t *testing.T) {
	fs := newFakeStore(store.SearchResult{Address: "z@conf.example"})
	svc := New(fs)
	svc.MarkReady()

	resp, err := svc.Search(context.Background(), Request{
		Form:   &Form{OrderBy: OrderAddress, ScopeAddress: true, Query: "foo"},
		Paging: &Paging{After: "a@conf.example"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Last != "z@conf.example" {
		t.Fatalf("expected rsm.last to be the address cursor, got %q", resp.Last)
	}
}

func TestSearchRejectsInvalidOrderBy(t *testing.T) {
	svc := New(newFakeStore())
	svc.MarkReady()

	_, err := svc.Search(context.Background(), Request{Form: &Form{OrderBy: "bogus"}})
	if !crawlerr.OfKind(err, crawlerr.KindValidation) {
		t.Fatalf("expected a validation error for an invalid key, got %v", err)
	}
}

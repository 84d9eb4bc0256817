package walker

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/dhcgn/archive-import/archive"
	"github.com/dhcgn/archive-import/model"
)

func items(n int) []*model.Item {
	out := make([]*model.Item, n)
	for i := range out {
		out[i] = &model.Item{Kind: model.KindMail, ID: int64(i)}
	}
	return out
}

func testTree() *archive.MemFolder {
	return &archive.MemFolder{
		FolderName: "",
		Items:      items(4),
		Children: []*archive.MemFolder{
			{
				FolderName: "Top of Information Store",
				Items:      items(1),
				Children: []*archive.MemFolder{
					{FolderName: "Inbox", Items: items(3), Children: []*archive.MemFolder{
						{FolderName: "Projects", Items: items(2)},
					}},
					{FolderName: "Deleted Items", Items: items(10), Children: []*archive.MemFolder{
						{FolderName: "Old", Items: items(7)},
					}},
					{FolderName: "Sent Items", Items: items(5)},
				},
			},
		},
	}
}

func newTestWalker() *Walker {
	return New(Options{
		Ignored: []string{"Deleted Items", "Calendar"},
		NoLabel: []string{"", "Top of Information Store"},
	}, nil)
}

type visit struct {
	name   string
	isRoot bool
	path   []string
}

type recorder struct {
	visits []visit
}

func (r *recorder) HandleFolder(_ context.Context, folder archive.Folder, isRoot bool, path *Path) error {
	r.visits = append(r.visits, visit{name: folder.Name(), isRoot: isRoot, path: path.Names()})
	return nil
}

func TestWalkPostOrderWithPaths(t *testing.T) {
	var rec recorder
	path := NewPath()
	if err := newTestWalker().Walk(context.Background(), testTree(), &rec, true, path); err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	want := []visit{
		{name: "Projects", path: []string{"Inbox", "Projects"}},
		{name: "Inbox", path: []string{"Inbox"}},
		{name: "Sent Items", path: []string{"Sent Items"}},
		{name: "Top of Information Store", path: []string{}},
		{name: "", isRoot: true, path: []string{}},
	}
	if len(rec.visits) != len(want) {
		t.Fatalf("got %d visits, want %d: %+v", len(rec.visits), len(want), rec.visits)
	}
	for i := range want {
		got := rec.visits[i]
		if got.name != want[i].name || got.isRoot != want[i].isRoot {
			t.Errorf("visit %d = %+v, want %+v", i, got, want[i])
		}
		if len(got.path) != len(want[i].path) || (len(got.path) > 0 && !reflect.DeepEqual(got.path, want[i].path)) {
			t.Errorf("visit %d path = %v, want %v", i, got.path, want[i].path)
		}
	}
	if path.Len() != 0 {
		t.Errorf("path not restored after walk: %v", path.Names())
	}
}

func TestWalkSkipsIgnoredSubtree(t *testing.T) {
	var rec recorder
	if err := newTestWalker().Walk(context.Background(), testTree(), &rec, true, NewPath()); err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	for _, v := range rec.visits {
		if v.name == "Deleted Items" || v.name == "Old" {
			t.Errorf("ignored folder %q was visited", v.name)
		}
	}
}

func TestCounter(t *testing.T) {
	tests := []struct {
		name string
		tree *archive.MemFolder
		want int
	}{
		{
			name: "root with subfolders skips its own items",
			tree: testTree(),
			want: 1 + 3 + 2 + 5,
		},
		{
			name: "leaf root counts its items",
			tree: &archive.MemFolder{FolderName: "", Items: items(6)},
			want: 6,
		},
		{
			name: "empty root",
			tree: &archive.MemFolder{},
			want: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CountItems(context.Background(), newTestWalker(), tt.tree)
			if err != nil {
				t.Fatalf("CountItems() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CountItems() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCounterNilFolder(t *testing.T) {
	var c Counter
	err := c.HandleFolder(context.Background(), nil, false, NewPath())
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("HandleFolder(nil) error = %v, want ErrInvalidArgument", err)
	}
}

func TestWalkTreatsUnlistableFolderAsLeaf(t *testing.T) {
	tree := &archive.MemFolder{
		FolderName: "",
		Children: []*archive.MemFolder{
			{FolderName: "Broken", Items: items(2), SubfoldersErr: errors.New("corrupt")},
			{FolderName: "Fine", Items: items(1)},
		},
	}

	var rec recorder
	if err := newTestWalker().Walk(context.Background(), tree, &rec, true, NewPath()); err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if len(rec.visits) != 3 || rec.visits[0].name != "Broken" || rec.visits[1].name != "Fine" {
		t.Fatalf("unexpected visits: %+v", rec.visits)
	}
}

func TestWalkStopsOnHandlerError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	h := HandlerFunc(func(context.Context, archive.Folder, bool, *Path) error {
		calls++
		return boom
	})

	path := NewPath()
	err := newTestWalker().Walk(context.Background(), testTree(), h, true, path)
	if !errors.Is(err, boom) {
		t.Fatalf("Walk() error = %v, want %v", err, boom)
	}
	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
	if path.Len() != 0 {
		t.Errorf("path not restored: %v", path.Names())
	}
}

func TestWalkHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var rec recorder
	err := newTestWalker().Walk(ctx, testTree(), &rec, true, NewPath())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Walk() error = %v, want context.Canceled", err)
	}
	if len(rec.visits) != 0 {
		t.Errorf("handler called after cancellation")
	}
}

func TestPath(t *testing.T) {
	p := NewPath()
	p.Push("a")
	p.Push("b")
	names := p.Names()
	names[0] = "changed"
	if p.String() != "a/b" {
		t.Errorf("String() = %q, want a/b", p.String())
	}
	p.Pop()
	p.Pop()
	p.Pop()
	if p.Len() != 0 {
		t.Errorf("Len() = %d after popping everything", p.Len())
	}
}

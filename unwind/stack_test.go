package unwind

import "testing"

func TestPopInvokesOnMatchingMode(t *testing.T) {
	var s Stack
	ran := false
	s.Push(func(ctx any) { ran = true }, ModeError, nil)
	s.Pop(ModeNormal)
	if ran {
		t.Fatalf("cleanup should not run when its mask doesn't include the active mode")
	}

	s.Push(func(ctx any) { ran = true }, ModeError, nil)
	s.Pop(ModeError)
	if !ran {
		t.Fatalf("cleanup should run when its mask includes the active mode")
	}
}

func TestUnwindToIsLIFO(t *testing.T) {
	var s Stack
	var order []int
	mark := s.Mark()
	s.Push(func(ctx any) { order = append(order, 1) }, ModeAny, nil)
	s.Push(func(ctx any) { order = append(order, 2) }, ModeAny, nil)
	s.Push(func(ctx any) { order = append(order, 3) }, ModeAny, nil)

	s.UnwindTo(mark, ModeError)

	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i, w := range want {
		if order[i] != w {
			t.Errorf("order[%d] = %d, want %d", i, order[i], w)
		}
	}
}

func TestUnwindToRespectsMark(t *testing.T) {
	var s Stack
	outerRan := false
	s.Push(func(ctx any) { outerRan = true }, ModeAny, nil)

	mark := s.Mark()
	innerRan := false
	s.Push(func(ctx any) { innerRan = true }, ModeAny, nil)

	s.UnwindTo(mark, ModeError)

	if !innerRan {
		t.Errorf("inner cleanup should have run")
	}
	if outerRan {
		t.Errorf("outer cleanup registered before the mark should not have run")
	}
	if s.Depth() != 1 {
		t.Errorf("Depth() = %d, want 1 (only the outer cleanup remains)", s.Depth())
	}
}

func TestPopOnEmptyStackIsNoOp(t *testing.T) {
	var s Stack
	s.Pop(ModeAny) // must not panic
	if s.Depth() != 0 {
		t.Errorf("Depth() = %d, want 0", s.Depth())
	}
}

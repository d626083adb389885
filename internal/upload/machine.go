package upload

import (
	"go-analysis-console/internal/preview"
	"go-analysis-console/pkg/models"
	"go-analysis-console/pkg/validation"
)

// State of the upload zone.
type State int

const (
	StateEmpty State = iota
	StateDragging
	StateSelected
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateDragging:
		return "dragging"
	case StateSelected:
		return "selected"
	}
	return "unknown"
}

// Selection is the current file together with its preview.
type Selection struct {
	File    *models.ImageFile
	Preview preview.Handle
}

// Listener receives every selection change; nil means cleared.
type Listener func(sel *Selection)

// Machine is the upload zone state machine. It is not safe for concurrent
// use; callers serialize access.
type Machine struct {
	state    State
	resume   State // state to go back to when a drag ends without a file
	sel      *Selection
	previews *preview.Manager
	listener Listener
}

func NewMachine(previews *preview.Manager, listener Listener) *Machine {
	return &Machine{
		state:    StateEmpty,
		previews: previews,
		listener: listener,
	}
}

func (m *Machine) State() State { return m.state }

// Selection returns a copy of the current selection.
func (m *Machine) Selection() (Selection, bool) {
	if m.sel == nil {
		return Selection{}, false
	}
	return *m.sel, true
}

// DragEnter starts a drag. A second enter while dragging comes from a
// nested child and is ignored.
func (m *Machine) DragEnter() {
	if m.state == StateDragging {
		return
	}
	m.resume = m.state
	m.state = StateDragging
}

// DragOver keeps the zone in the dragging state; the drop target needs it.
func (m *Machine) DragOver() {
	m.DragEnter()
}

// DragLeave ends the drag unless the pointer only moved onto a child of
// the zone.
func (m *Machine) DragLeave(relatedInside bool) {
	if m.state != StateDragging || relatedInside {
		return
	}
	m.state = m.resume
}

// Drop handles a file dropped on the zone. A nil file (nothing dropped)
// only ends the drag.
func (m *Machine) Drop(file *models.ImageFile) error {
	if m.state == StateDragging {
		m.state = m.resume
	}
	if file == nil {
		return nil
	}
	return m.accept(file)
}

// SelectFile handles the file input. A nil file means the dialog was
// dismissed.
func (m *Machine) SelectFile(file *models.ImageFile) error {
	if file == nil {
		return nil
	}
	return m.accept(file)
}

// Clear releases the preview and empties the zone.
func (m *Machine) Clear() {
	if m.sel != nil {
		m.previews.Release(m.sel.Preview)
	}
	m.sel = nil
	m.state = StateEmpty
	m.emit()
}

func (m *Machine) accept(file *models.ImageFile) error {
	if err := validation.ValidateImageType(file.ContentType); err != nil {
		return err
	}

	var prev preview.Handle
	if m.sel != nil {
		prev = m.sel.Preview
	}
	handle := m.previews.Replace(prev, file)

	m.sel = &Selection{File: file, Preview: handle}
	m.state = StateSelected
	m.emit()
	return nil
}

func (m *Machine) emit() {
	if m.listener == nil {
		return
	}
	if m.sel == nil {
		m.listener(nil)
		return
	}
	sel := *m.sel
	m.listener(&sel)
}

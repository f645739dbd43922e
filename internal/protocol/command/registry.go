package command

import (
	"fmt"
	"sort"
	"strings"
)

// Decoder interprets the result bytes of one command kind.
type Decoder func(result []byte) (any, error)

// Descriptor binds a command id to its name and result decoder.
type Descriptor struct {
	ID   ID
	Name string
	// Decode is nil for commands whose result carries no data.
	Decode Decoder
	// NoResponse marks fire-and-forget commands; the device never replies.
	NoResponse bool
}

// Registry maps command ids to descriptors. Populate it before sharing it.
type Registry struct {
	items map[ID]Descriptor
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[ID]Descriptor)}
}

func (r *Registry) Register(d Descriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: command %s missing name", ErrInvalidDescriptor, d.ID)
	}
	if _, ok := r.items[d.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, d.ID)
	}
	r.items[d.ID] = d
	return nil
}

func (r *Registry) Lookup(id ID) (Descriptor, error) {
	d, ok := r.items[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnregisteredCommand, id)
	}
	return d, nil
}

// Name returns the registered name for id, or its hex form.
func (r *Registry) Name(id ID) string {
	if d, ok := r.items[id]; ok {
		return d.Name
	}
	return id.String()
}

// DecodeResponse decodes a command-channel payload and rejects unknown ids.
func (r *Registry) DecodeResponse(payload []byte) (Response, error) {
	resp, err := DecodeResponse(payload)
	if err != nil {
		return Response{}, err
	}
	if _, err := r.Lookup(resp.CommandID); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Value runs the registered decoder over resp.Result.
func (r *Registry) Value(resp Response) (any, error) {
	d, err := r.Lookup(resp.CommandID)
	if err != nil {
		return nil, err
	}
	if d.Decode == nil {
		return resp.Result, nil
	}
	return d.Decode(resp.Result)
}

// List returns descriptors ordered by id.
func (r *Registry) List() []Descriptor {
	list := make([]Descriptor, 0, len(r.items))
	for _, d := range r.items {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].ID < list[j].ID
	})
	return list
}

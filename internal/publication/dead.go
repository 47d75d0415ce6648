package publication

// DeadMessage wraps a publication that matched no subscription. It is
// delivered only to handlers declared for exactly *DeadMessage.
type DeadMessage struct {
	args Args
}

// NewDeadMessage wraps args.
func NewDeadMessage(args Args) *DeadMessage {
	return &DeadMessage{args: args}
}

// Len returns the number of wrapped messages.
func (d *DeadMessage) Len() int {
	return d.args.Len()
}

// Message returns the first wrapped message.
func (d *DeadMessage) Message() any {
	if d.args.Len() == 0 {
		return nil
	}
	return d.args.At(0)
}

// At returns the wrapped message at position i.
func (d *DeadMessage) At(i int) any {
	return d.args.At(i)
}

// Messages returns all wrapped messages.
func (d *DeadMessage) Messages() []any {
	return d.args.Slice()
}

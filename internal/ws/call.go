package ws

import "encoding/json"

// CallRelay пересылает сигнальные сообщения звонков между двумя
// пользователями. Сервер не хранит состояние звонка и не разбирает
// SDP: обе стороны сами договариваются через пересланные блобы,
// медиа идёт peer-to-peer.
type CallRelay struct {
	dir *Directory
}

func NewCallRelay(dir *Directory) *CallRelay {
	return &CallRelay{dir: dir}
}

// Initiate forwards the caller's offer to the callee's live connection.
// Returns false if the callee is offline; the caller times out on its own.
func (r *CallRelay) Initiate(fromID, toID string, offer json.RawMessage) bool {
	target, ok := r.dir.Lookup(toID)
	if !ok {
		return false
	}
	return target.Deliver(OutgoingEvent{
		Type:    EventCallMade,
		Payload: CallMadePayload{From: fromID, Offer: offer},
	})
}

// Answer forwards the callee's answer back to the caller.
func (r *CallRelay) Answer(fromID, toID string, answer json.RawMessage) bool {
	target, ok := r.dir.Lookup(toID)
	if !ok {
		return false
	}
	return target.Deliver(OutgoingEvent{
		Type:    EventCallAccepted,
		Payload: CallAcceptedPayload{From: fromID, Answer: answer},
	})
}

// End tells the other party the call attempt is over. Идемпотентно:
// если адресат уже отключился, сообщать нечего.
func (r *CallRelay) End(fromID, toID string) bool {
	target, ok := r.dir.Lookup(toID)
	if !ok {
		return false
	}
	return target.Deliver(OutgoingEvent{
		Type:    EventCallEnded,
		Payload: CallEndedPayload{From: fromID},
	})
}

package main

import (
	"log"

	"github.com/vntrieu/mixplay/internal/chat"
	"github.com/vntrieu/mixplay/internal/interactive"
	"github.com/vntrieu/mixplay/internal/participant"
)

// interactiveLogger logs session lifecycle and spark-bearing input.
type interactiveLogger struct {
	interactive.NopObserver
}

func (interactiveLogger) LoginStateChanged(state interactive.LoginState, err error) {
	if err != nil {
		log.Printf("interactive login state=%s err=%v", state, err)
		return
	}
	log.Printf("interactive login state=%s", state)
}

func (interactiveLogger) InteractivityStateChanged(state interactive.InteractivityState) {
	log.Printf("interactive interactivity=%s", state)
}

func (interactiveLogger) ParticipantStateChanged(p participant.Participant, change interactive.ParticipantChange) {
	if change == interactive.ParticipantUpdated {
		return
	}
	log.Printf("interactive participant %s user=%d name=%s group=%s", change, p.UserID, p.Name, p.GroupID)
}

func (interactiveLogger) ButtonEvent(ev interactive.ButtonEvent) {
	if ev.TransactionID == "" {
		return
	}
	log.Printf("interactive button control=%s user=%d pressed=%t transaction=%s cost=%d",
		ev.ControlID, ev.Participant.UserID, ev.Pressed, ev.TransactionID, ev.SparkCost)
}

func (interactiveLogger) TextboxEvent(ev interactive.TextboxEvent) {
	if !ev.Submitted {
		return
	}
	log.Printf("interactive textbox submit control=%s user=%d", ev.ControlID, ev.Participant.UserID)
}

// chatLogger logs room lifecycle and poll results.
type chatLogger struct {
	chat.NopObserver
}

func (chatLogger) JoinCompleted(room string, err error) {
	if err != nil {
		log.Printf("chat join room=%s failed: %v", room, err)
		return
	}
	log.Printf("chat joined room=%s", room)
}

func (chatLogger) Exited(room string, clean bool, reason string) {
	log.Printf("chat exited room=%s clean=%t reason=%q", room, clean, reason)
}

func (chatLogger) PollEnded(room string, p chat.Poll) {
	log.Printf("chat poll ended room=%s question=%q voters=%d", room, p.Question, p.Voters)
}

// Package shell implements the interactive scanning shell.
package shell

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/atinyakov/ScanKeeper/internal/client/scan"
	"github.com/atinyakov/ScanKeeper/internal/client/storage"
	"github.com/atinyakov/ScanKeeper/internal/models"
	"github.com/fatih/color"
)

const helpText = `Available commands:
  new [name]        create a session and make it active
  sessions          list local sessions
  use <id>          make a session active
  show              show the active session
  scan <barcode>    scan equipment into the active session
  dec <equipment>   decrement a non-serialized item
  rm <equipment>    remove an item
  clear             remove all items from the active session
  rename <name>     rename the active session
  delete <id>       delete a local session
  sync              push the active session now
  remote            list sessions stored on the server
  import <id>       replace or add a local copy of a server session
  forget <id>       delete a session on the server
  draft [name]      hand the active session to project creation
  exit`

// Remote is the server side of scan sessions used by the shell.
type Remote interface {
	GetSession(ctx context.Context, id string) (*models.RemoteSession, error)
	ListSessions(ctx context.Context, userID string) ([]models.RemoteSession, error)
	DeleteSession(ctx context.Context, id string) error
}

// Shell reads commands line by line and applies them to the store.
type Shell struct {
	Store    *storage.LocalStorage
	Agent    *storage.SyncAgent
	Ingester *scan.Ingester
	Remote   Remote
	UserID   string

	In  io.Reader
	Out io.Writer
}

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
)

// Run processes commands until exit or end of input.
func (sh *Shell) Run(ctx context.Context) {
	sc := bufio.NewScanner(sh.In)
	for {
		fmt.Fprint(sh.Out, "scankeeper> ")
		if !sc.Scan() {
			return
		}
		args := strings.Fields(strings.TrimSpace(sc.Text()))
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" || args[0] == "quit" {
			fmt.Fprintln(sh.Out, "Bye")
			return
		}
		sh.Exec(ctx, sc, args)
	}
}

// Exec runs a single command.
func (sh *Shell) Exec(ctx context.Context, sc *bufio.Scanner, args []string) {
	switch args[0] {
	case "help":
		fmt.Fprintln(sh.Out, helpText)
	case "new":
		name := strings.Join(args[1:], " ")
		if name == "" && sc != nil {
			name = PromptLine(sc, sh.Out, "Session name: ")
		}
		s := sh.Store.CreateSession(name)
		okColor.Fprintf(sh.Out, "Session %q created (%s)\n", s.Name, s.ID)
		if sh.Agent != nil && !sh.Agent.Running() {
			sh.Agent.Start(ctx)
		}
	case "sessions":
		sh.listSessions()
	case "use":
		if len(args) < 2 {
			fmt.Fprintln(sh.Out, "Usage: use <id>")
			return
		}
		if _, ok := sh.Store.GetSession(args[1]); !ok {
			errColor.Fprintln(sh.Out, "Session not found")
			return
		}
		sh.Store.SetActiveSession(args[1])
		fmt.Fprintln(sh.Out, "Active session:", args[1])
		if sh.Agent != nil {
			sh.Agent.Start(ctx)
		}
	case "show":
		s, ok := sh.Store.GetActiveSession()
		if !ok {
			warnColor.Fprintln(sh.Out, "No active session")
			return
		}
		sh.printSession(s)
	case "scan":
		if len(args) < 2 {
			fmt.Fprintln(sh.Out, "Usage: scan <barcode>")
			return
		}
		sh.scan(ctx, args[1])
	case "dec", "rm":
		sh.changeItem(args)
	case "clear":
		sh.withActive(func(id string) (*models.Session, bool) {
			return sh.Store.ClearEquipment(id)
		}, "Session cleared")
	case "rename":
		name := strings.Join(args[1:], " ")
		sh.withActive(func(id string) (*models.Session, bool) {
			return sh.Store.UpdateSessionName(id, name)
		}, "Session renamed")
	case "delete":
		if len(args) < 2 {
			fmt.Fprintln(sh.Out, "Usage: delete <id>")
			return
		}
		if sc != nil && !PromptConfirm(sc, sh.Out, "Delete session "+args[1]+"?") {
			return
		}
		if sh.Store.DeleteSession(args[1]) {
			fmt.Fprintln(sh.Out, "Session deleted")
			if _, ok := sh.Store.GetActiveSession(); !ok && sh.Agent != nil {
				sh.Agent.Stop()
			}
		} else {
			errColor.Fprintln(sh.Out, "Session not found")
		}
	case "sync":
		sh.sync(ctx)
	case "remote":
		sh.listRemote(ctx)
	case "import":
		if len(args) < 2 {
			fmt.Fprintln(sh.Out, "Usage: import <id>")
			return
		}
		sh.importRemote(ctx, args[1])
	case "forget":
		if len(args) < 2 {
			fmt.Fprintln(sh.Out, "Usage: forget <id>")
			return
		}
		if sh.Remote == nil {
			errColor.Fprintln(sh.Out, "Server is not configured")
			return
		}
		if err := sh.Remote.DeleteSession(ctx, args[1]); err != nil {
			errColor.Fprintln(sh.Out, "Delete failed:", err)
			return
		}
		fmt.Fprintln(sh.Out, "Server session deleted")
	case "draft":
		sh.draft(strings.Join(args[1:], " "))
	default:
		fmt.Fprintln(sh.Out, "Unknown command. Type 'help' for a list of commands.")
	}
}

func (sh *Shell) scan(ctx context.Context, barcode string) {
	res := sh.Ingester.Ingest(ctx, barcode)
	switch res.Outcome {
	case scan.Added:
		qty := 1
		if id, err := res.Equipment.ID.Int64(); err == nil {
			for _, it := range res.Session.Items {
				if it.EquipmentID == id {
					qty = it.Quantity
				}
			}
		}
		okColor.Fprintf(sh.Out, "Added %s (x%d)\n", res.Equipment.Name, qty)
	case scan.Duplicate:
		warnColor.Fprintf(sh.Out, "%s is already in the session\n", res.Equipment.Name)
	case scan.NoActiveSession:
		warnColor.Fprintln(sh.Out, "No active session. Create one with 'new <name>'")
	default:
		errColor.Fprintf(sh.Out, "Scan failed (%s): %v\n", res.Outcome, res.Err)
	}
}

func (sh *Shell) changeItem(args []string) {
	if len(args) < 2 {
		fmt.Fprintf(sh.Out, "Usage: %s <equipment id>\n", args[0])
		return
	}
	id, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		errColor.Fprintln(sh.Out, "Equipment id must be a number")
		return
	}
	if args[0] == "dec" {
		sh.withActive(func(sid string) (*models.Session, bool) {
			return sh.Store.DecrementQuantity(sid, id)
		}, "Quantity updated")
		return
	}
	sh.withActive(func(sid string) (*models.Session, bool) {
		return sh.Store.RemoveEquipment(sid, id)
	}, "Item removed")
}

func (sh *Shell) withActive(fn func(id string) (*models.Session, bool), msg string) {
	active, ok := sh.Store.GetActiveSession()
	if !ok {
		warnColor.Fprintln(sh.Out, "No active session")
		return
	}
	after, ok := fn(active.ID)
	if !ok || sameContent(active, after) {
		errColor.Fprintln(sh.Out, "Nothing changed")
		return
	}
	fmt.Fprintln(sh.Out, msg)
}

// sameContent reports whether a and b have the same name and items.
func sameContent(a, b *models.Session) bool {
	if a.Name != b.Name || len(a.Items) != len(b.Items) {
		return false
	}
	for i := range a.Items {
		if a.Items[i].EquipmentID != b.Items[i].EquipmentID || a.Items[i].Quantity != b.Items[i].Quantity {
			return false
		}
	}
	return true
}

func (sh *Shell) sync(ctx context.Context) {
	if sh.Agent == nil {
		errColor.Fprintln(sh.Out, "Server is not configured")
		return
	}
	if err := sh.Agent.SyncActive(ctx); err != nil {
		errColor.Fprintln(sh.Out, "Sync failed:", err)
		return
	}
	okColor.Fprintln(sh.Out, "Sync successful")
}

func (sh *Shell) listSessions() {
	activeID := sh.Store.ActiveSessionID()
	sessions := sh.Store.ListSessions()
	if len(sessions) == 0 {
		fmt.Fprintln(sh.Out, "No sessions")
		return
	}
	for _, s := range sessions {
		marker := " "
		if s.ID == activeID {
			marker = "*"
		}
		fmt.Fprintf(sh.Out, "%s %s  %q  items=%d  %s\n", marker, s.ID, s.Name, s.TotalQuantity(), s.SyncState())
	}
}

func (sh *Shell) printSession(s *models.Session) {
	fmt.Fprintf(sh.Out, "ID: %s\nName: %s\nState: %s\nUpdated: %s\n---\n",
		s.ID, s.Name, s.SyncState(), s.UpdatedAt.Format("2006-01-02 15:04:05"))
	for _, it := range s.Items {
		serial := "-"
		if it.SerialNumber != nil {
			serial = *it.SerialNumber
		}
		fmt.Fprintf(sh.Out, "%d\t%s\t%s\tS/N %s\tx%d\n", it.EquipmentID, it.Barcode, it.Name, serial, it.Quantity)
	}
}

func (sh *Shell) listRemote(ctx context.Context) {
	if sh.Remote == nil {
		errColor.Fprintln(sh.Out, "Server is not configured")
		return
	}
	list, err := sh.Remote.ListSessions(ctx, sh.UserID)
	if err != nil {
		errColor.Fprintln(sh.Out, "Listing failed:", err)
		return
	}
	for _, rs := range list {
		fmt.Fprintf(sh.Out, "%s  %q  items=%d  expires %s\n", rs.ID, rs.Name, len(rs.Items), rs.ExpiresAt.Format("2006-01-02"))
	}
}

func (sh *Shell) importRemote(ctx context.Context, id string) {
	if sh.Remote == nil {
		errColor.Fprintln(sh.Out, "Server is not configured")
		return
	}
	rs, err := sh.Remote.GetSession(ctx, id)
	if err != nil {
		errColor.Fprintln(sh.Out, "Import failed:", err)
		return
	}
	s, ok := sh.Store.ImportServerSession(*rs)
	if !ok {
		errColor.Fprintln(sh.Out, "Import failed")
		return
	}
	sh.Store.SetActiveSession(s.ID)
	okColor.Fprintf(sh.Out, "Imported %q (%d items)\n", s.Name, len(s.Items))
	if sh.Agent != nil {
		sh.Agent.Start(ctx)
	}
}

func (sh *Shell) draft(name string) {
	active, ok := sh.Store.GetActiveSession()
	if !ok {
		warnColor.Fprintln(sh.Out, "No active session")
		return
	}
	d, ok := sh.Store.SaveProjectDraft(active.ID, name)
	if !ok {
		errColor.Fprintln(sh.Out, "Could not save project draft")
		return
	}
	b, _ := json.MarshalIndent(d, "", "  ")
	fmt.Fprintln(sh.Out, string(b))
}

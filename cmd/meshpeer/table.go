package main

import (
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mossy-p/webrtc-mesh/internal/mesh"
	"github.com/mossy-p/webrtc-mesh/internal/models"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}

func renderUsers(users []models.User) {
	t := newTable()
	t.AppendHeader(table.Row{"Email", "Name", "Role", "Group"})
	for _, u := range users {
		t.AppendRow(table.Row{u.Email, u.Name, u.Role, u.GroupID})
	}
	t.Render()
}

func renderRooms(rooms []models.Room) {
	t := newTable()
	t.AppendHeader(table.Row{"Room", "Created", "Group", "Created by"})
	for _, r := range rooms {
		t.AppendRow(table.Row{r.ID, r.CreatedAt.Local().Format(time.DateTime), r.OwnerGroupID, r.CreatedBy})
	}
	t.AppendFooter(table.Row{"", "", "Total", len(rooms)})
	t.Render()
}

func renderLinks(links []mesh.LinkStatus) {
	t := newTable()
	t.AppendHeader(table.Row{"Peer", "State", "Attempts", "Rebuilds", "Relay only", "Next retry"})
	for _, l := range links {
		next := "-"
		if !l.NextRetry.IsZero() {
			next = time.Until(l.NextRetry).Round(100 * time.Millisecond).String()
		}
		t.AppendRow(table.Row{l.Peer, l.State, l.Attempts, l.Rebuilds, l.RelayOnly, next})
	}
	t.SortBy([]table.SortBy{{Name: "Peer", Mode: table.Asc}})
	t.Render()
}

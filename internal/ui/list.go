package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/likesync/internal/models"
	"github.com/desertthunder/likesync/internal/shared"
)

var _ list.Item = libraryItem{}

// libraryItem wraps [models.LibraryItem] to implement [list.Item].
type libraryItem struct {
	item *models.LibraryItem
}

func (i libraryItem) FilterValue() string { return i.item.Title + " " + i.item.Artist }
func (i libraryItem) Title() string       { return i.item.Title }
func (i libraryItem) Description() string {
	desc := fmt.Sprintf("%s • %s", i.item.Artist, shared.FormatDuration(i.item.DurationSeconds))
	if i.item.Album != "" {
		desc = fmt.Sprintf("%s • %s", desc, i.item.Album)
	}
	return desc
}

func toListItems(items []*models.LibraryItem) []list.Item {
	out := make([]list.Item, len(items))
	for i, item := range items {
		out[i] = libraryItem{item: item}
	}
	return out
}

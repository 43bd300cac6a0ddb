package sync

import (
	"strconv"

	"canvas-sync/internal/canvas"
	"canvas-sync/internal/content"
)

// Builders from API objects into the shared model. Exporter and importer
// must construct remote items through these same functions, otherwise the
// two sides hash differently and every round trip looks like a change.

func itemFromModule(m *canvas.Module) *content.Item {
	return &content.Item{
		RemoteID:  strconv.FormatInt(m.ID, 10),
		Kind:      content.KindModule,
		Title:     m.Name,
		Position:  m.Position,
		Published: m.Published,
	}
}

func itemFromPage(p *canvas.Page, mi *canvas.ModuleItem) *content.Item {
	item := &content.Item{
		RemoteID:  p.URL, // pages address by url slug, not numeric id
		Kind:      content.KindPage,
		Title:     p.Title,
		Body:      p.Body,
		Published: p.Published,
	}
	applyModuleItem(item, mi)
	return item
}

func itemFromAssignment(a *canvas.Assignment, mi *canvas.ModuleItem) *content.Item {
	item := &content.Item{
		RemoteID:  strconv.FormatInt(a.ID, 10),
		Kind:      content.KindAssignment,
		Title:     a.Name,
		Body:      a.Description,
		Position:  a.Position,
		Published: a.Published,
		Meta: content.Meta{
			DueAt:           a.DueAt,
			UnlockAt:        a.UnlockAt,
			LockAt:          a.LockAt,
			PointsPossible:  a.PointsPossible,
			SubmissionTypes: a.SubmissionTypes,
		},
	}
	applyModuleItem(item, mi)
	return item
}

func itemFromQuiz(q *canvas.Quiz, mi *canvas.ModuleItem) *content.Item {
	item := &content.Item{
		RemoteID:  strconv.FormatInt(q.ID, 10),
		Kind:      content.KindQuiz,
		Title:     q.Title,
		Body:      q.Description,
		Published: q.Published,
		Meta: content.Meta{
			DueAt:          q.DueAt,
			UnlockAt:       q.UnlockAt,
			LockAt:         q.LockAt,
			PointsPossible: q.PointsPossible,
		},
	}
	applyModuleItem(item, mi)
	return item
}

func itemFromFile(f *canvas.File, mi *canvas.ModuleItem, sourceRel string) *content.Item {
	item := &content.Item{
		RemoteID: strconv.FormatInt(f.ID, 10),
		Kind:     content.KindFile,
		Title:    f.DisplayName,
		Meta:     content.Meta{Source: sourceRel},
	}
	applyModuleItem(item, mi)
	return item
}

// itemFromBareModuleItem covers entries with no backing content object:
// external links and subheaders.
func itemFromBareModuleItem(mi *canvas.ModuleItem) *content.Item {
	return &content.Item{
		RemoteID:  strconv.FormatInt(mi.ID, 10),
		Kind:      content.KindModuleItem,
		Title:     mi.Title,
		Position:  mi.Position,
		Published: mi.Published,
		Meta:      content.Meta{ExternalURL: mi.ExternalURL},
	}
}

func applyModuleItem(item *content.Item, mi *canvas.ModuleItem) {
	if mi == nil {
		return
	}
	item.Position = mi.Position
	item.Published = mi.Published
	item.Meta.ModuleItemID = strconv.FormatInt(mi.ID, 10)
	if mi.Title != "" {
		item.Title = mi.Title
	}
}

package shell

import (
	"github.com/samber/lo"

	"github.com/0x0BSoD/newsMonkey/internal/model"
	"github.com/0x0BSoD/newsMonkey/internal/render"
)

type Route struct {
	Path     string
	Category model.Category
}

// MorePath is where the page asks for the next batch of cards.
func (r Route) MorePath() string {
	if r.Path == "/" {
		return "/more"
	}
	return r.Path + "/more"
}

var Routes = []Route{
	{Path: "/", Category: model.CategoryGeneral},
	{Path: "/business", Category: model.CategoryBusiness},
	{Path: "/entertainment", Category: model.CategoryEntertainment},
	{Path: "/health", Category: model.CategoryHealth},
	{Path: "/science", Category: model.CategoryScience},
	{Path: "/sports", Category: model.CategorySports},
	{Path: "/technology", Category: model.CategoryTechnology},
}

func navItems(active model.Category) []render.NavItem {
	return lo.Map(Routes, func(r Route, _ int) render.NavItem {
		return render.NavItem{
			Title:  r.Category.Title(),
			Path:   r.Path,
			Active: r.Category == active,
		}
	})
}

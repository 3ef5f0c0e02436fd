package filters

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/authz"
)

const (
	DefaultPerPage = 50
	MaxPerPage     = 5000
)

type Pagination struct {
	Page    int
	PerPage int
}

// ParsePagination reads page and per_page, defaulting to the first page of 50.
func ParsePagination(queryParameters map[string][]string) (Pagination, error) {
	p := Pagination{Page: 1, PerPage: DefaultPerPage}

	if values := queryParameters["page"]; len(values) > 0 {
		page, err := strconv.Atoi(values[0])
		if err != nil || page < 1 {
			return Pagination{}, errors.New("Page must be a positive integer")
		}
		p.Page = page
	}
	if values := queryParameters["per_page"]; len(values) > 0 {
		perPage, err := strconv.Atoi(values[0])
		if err != nil || perPage < 1 || perPage > MaxPerPage {
			return Pagination{}, fmt.Errorf("Per page must be between 1 and %d", MaxPerPage)
		}
		p.PerPage = perPage
	}
	return p, nil
}

type PackagePage struct {
	Pagination
	TotalResults int
	TotalPages   int
	Resources    []appsv1alpha1.Package
}

// Paginator narrows a listing to the records the caller may see and that pass Filter,
// ordered oldest first.
type Paginator struct {
	Access     authz.AccessContext
	Filter     Filter
	Pagination Pagination
}

func (p Paginator) Packages(all []appsv1alpha1.Package) PackagePage {
	var visible []appsv1alpha1.Package
	for i := range all {
		if !p.Access.CanSeeSpace(all[i].Namespace) {
			continue
		}
		if p.Filter != nil && !p.Filter.Filter(&all[i]) {
			continue
		}
		visible = append(visible, all[i])
	}

	sort.SliceStable(visible, func(i, j int) bool {
		ti, tj := visible[i].CreationTimestamp, visible[j].CreationTimestamp
		if !ti.Equal(&tj) {
			return ti.Before(&tj)
		}
		return visible[i].Name < visible[j].Name
	})

	pagination := p.Pagination
	if pagination.Page < 1 {
		pagination.Page = 1
	}
	if pagination.PerPage < 1 {
		pagination.PerPage = DefaultPerPage
	}

	page := PackagePage{
		Pagination:   pagination,
		TotalResults: len(visible),
		TotalPages:   (len(visible) + pagination.PerPage - 1) / pagination.PerPage,
		Resources:    []appsv1alpha1.Package{},
	}

	start := (pagination.Page - 1) * pagination.PerPage
	if start >= len(visible) {
		return page
	}
	end := start + pagination.PerPage
	if end > len(visible) {
		end = len(visible)
	}
	page.Resources = visible[start:end]
	return page
}

package handlers

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
	"cloudfoundry.org/cf-staging/cfshim/filters"
)

// Presenters- used for cfshim api responses
// 		we have separated the structs becuase some fields need to be hidden/shown differently to match the CF api
//---------------------------------------------------------------------------------------
// PACKAGE PRESENTER
//---------------------------------------------------------------------------------------
type CFAPIPresenterPackageResource struct {
	GUID          string                       `json:"guid"`
	Type          string                       `json:"type"`
	Data          CFAPIPresenterPackageData    `json:"data"`
	State         string                       `json:"state"`
	CreatedAt     string                       `json:"created_at"`
	UpdatedAt     string                       `json:"updated_at"`
	Relationships CFAPIPackageAppRelationships `json:"relationships"`
	Links         map[string]CFAPILink         `json:"links"`
	Metadata      CFAPIMetadata                `json:"metadata"`
}

type CFAPIPresenterPackageData struct {
	CFAPIPresenterPackageDockerData
	CFAPIPresenterPackageBitsData
	Type string `json:"-"`
}

type CFAPIPresenterPackageBitsData struct {
	Checksum *CFAPIPresenterChecksum `json:"checksum,omitempty"`
	Error    *string                 `json:"error"`
}

type CFAPIPresenterPackageDockerData struct {
	Image string `json:"image"`
}

// We need a custom MarshalJSON function to implement the encoding/json.Marshaler interface
// This will let us present the data in CFAPIPresenterPackageData two different ways depending on the Type field
func (d CFAPIPresenterPackageData) MarshalJSON() ([]byte, error) {
	switch d.Type {
	case string(appsv1alpha1.BitsPackage):
		return json.Marshal(d.CFAPIPresenterPackageBitsData)
	case string(appsv1alpha1.DockerPackage):
		return json.Marshal(d.CFAPIPresenterPackageDockerData)
	}
	return json.Marshal(map[string]interface{}{})
}

type CFAPIPresenterChecksum struct {
	Type  string  `json:"type"`
	Value *string `json:"value"`
}

func formatPackageToPresenter(pkg *appsv1alpha1.Package) CFAPIPresenterPackageResource {
	data := CFAPIPresenterPackageData{Type: string(pkg.Spec.Type)}
	if pkg.Spec.Type == appsv1alpha1.BitsPackage {
		checksum := &CFAPIPresenterChecksum{Type: string(appsv1alpha1.SHA256ChecksumType)}
		if pkg.Status.Checksum.Value != "" {
			value := pkg.Status.Checksum.Value
			checksum.Value = &value
		}
		data.Checksum = checksum
		if pkg.Status.Error != "" {
			message := pkg.Status.Error
			data.Error = &message
		}
	} else {
		data.Image = pkg.Spec.URL
	}

	links := map[string]CFAPILink{
		"self": {Href: "/v3/packages/" + pkg.Name},
		"app":  {Href: "/v3/apps/" + pkg.Spec.AppRef.Name},
	}
	if pkg.Spec.Type == appsv1alpha1.BitsPackage {
		links["upload"] = CFAPILink{Href: "/v3/packages/" + pkg.Name + "/upload", Method: "POST"}
		links["stage"] = CFAPILink{Href: "/v3/packages/" + pkg.Name + "/droplets", Method: "POST"}
	}

	return CFAPIPresenterPackageResource{
		GUID:      pkg.Name,
		Type:      string(pkg.Spec.Type),
		Data:      data,
		State:     string(pkg.Status.State),
		CreatedAt: pkg.CreationTimestamp.UTC().Format(time.RFC3339),
		UpdatedAt: "",
		Relationships: CFAPIPackageAppRelationships{
			App: CFAPIPackageAppRelationshipsApp{
				Data: CFAPIPackageAppRelationshipsAppData{
					GUID: pkg.Spec.AppRef.Name,
				},
			},
		},
		Links: links,
		Metadata: CFAPIMetadata{
			Labels:      map[string]string{},
			Annotations: map[string]string{},
		},
	}
}

type CFAPIPresenterPackageList struct {
	Pagination CFAPIPagination                 `json:"pagination"`
	Resources  []CFAPIPresenterPackageResource `json:"resources"`
}

func formatPackagePage(page filters.PackagePage, query url.Values) CFAPIPresenterPackageList {
	resources := make([]CFAPIPresenterPackageResource, 0, len(page.Resources))
	for i := range page.Resources {
		resources = append(resources, formatPackageToPresenter(&page.Resources[i]))
	}

	lastPage := page.TotalPages
	if lastPage < 1 {
		lastPage = 1
	}
	pagination := CFAPIPagination{
		TotalResults: page.TotalResults,
		TotalPages:   page.TotalPages,
		First:        CFAPILink{Href: packagesPageHref(query, 1, page.PerPage)},
		Last:         CFAPILink{Href: packagesPageHref(query, lastPage, page.PerPage)},
	}
	if page.Page < page.TotalPages {
		pagination.Next = &CFAPILink{Href: packagesPageHref(query, page.Page+1, page.PerPage)}
	}
	if page.Page > 1 {
		pagination.Previous = &CFAPILink{Href: packagesPageHref(query, page.Page-1, page.PerPage)}
	}

	return CFAPIPresenterPackageList{Pagination: pagination, Resources: resources}
}

func packagesPageHref(query url.Values, page, perPage int) string {
	params := url.Values{}
	for key, values := range query {
		params[key] = values
	}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))
	return fmt.Sprintf("%s?%s", PackagesEndpoint, params.Encode())
}

//---------------------------------------------------------------------------------------
// DROPLET PRESENTER
//---------------------------------------------------------------------------------------
type CFAPIPresenterDropletResource struct {
	GUID      string               `json:"guid"`
	State     string               `json:"state"`
	Hash      *string              `json:"hash"`
	CreatedAt string               `json:"created_at"`
	Links     map[string]CFAPILink `json:"_links"`
}

func formatDropletToPresenter(droplet *appsv1alpha1.Droplet) CFAPIPresenterDropletResource {
	var hash *string
	if droplet.Status.DropletHash != "" {
		value := droplet.Status.DropletHash
		hash = &value
	}

	links := map[string]CFAPILink{
		"self": {Href: "/v3/droplets/" + droplet.Name},
	}
	if droplet.Spec.PackageRef.Name != "" {
		links["package"] = CFAPILink{Href: "/v3/packages/" + droplet.Spec.PackageRef.Name}
	}

	return CFAPIPresenterDropletResource{
		GUID:      droplet.Name,
		State:     string(droplet.Status.State),
		Hash:      hash,
		CreatedAt: droplet.CreationTimestamp.UTC().Format(time.RFC3339),
		Links:     links,
	}
}

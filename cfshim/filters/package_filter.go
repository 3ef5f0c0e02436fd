package filters

import (
	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
)

type PackageFilter struct {
	QueryParameters map[string][]string
}

func (p *PackageFilter) Filter(input interface{}) bool {
	pk, ok := input.(*appsv1alpha1.Package)
	if !ok {
		return false
	}

	// Take the URL input list and compare to the field in the Package K8s CR Object
	if !queryParameterMatches(p.QueryParameters["guids"], pk.ObjectMeta.Name) {
		return false
	}
	if !queryParameterMatches(p.QueryParameters["app_guids"], pk.Spec.AppRef.Name) {
		return false
	}
	if !queryParameterMatches(p.QueryParameters["space_guids"], pk.ObjectMeta.Namespace) {
		return false
	}
	if !queryParameterMatches(p.QueryParameters["states"], string(pk.Status.State)) {
		return false
	}
	if !queryParameterMatches(p.QueryParameters["types"], string(pk.Spec.Type)) {
		return false
	}
	return true
}

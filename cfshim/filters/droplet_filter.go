package filters

import (
	appsv1alpha1 "cloudfoundry.org/cf-staging/api/v1alpha1"
)

type DropletFilter struct {
	QueryParameters map[string][]string
}

func (d *DropletFilter) Filter(input interface{}) bool {
	drp, ok := input.(*appsv1alpha1.Droplet)
	if !ok {
		return false
	}

	if !queryParameterMatches(d.QueryParameters["guids"], drp.ObjectMeta.Name) {
		return false
	}
	if !queryParameterMatches(d.QueryParameters["app_guids"], drp.Spec.AppRef.Name) {
		return false
	}
	if !queryParameterMatches(d.QueryParameters["package_guids"], drp.Spec.PackageRef.Name) {
		return false
	}
	if !queryParameterMatches(d.QueryParameters["states"], string(drp.Status.State)) {
		return false
	}
	return true
}

package domain

import "github.com/shhac/dynrpc/internal/descriptor"

// Service is a listing-friendly summary of a service.
type Service struct {
	Name     string   `json:"name"`
	FullName string   `json:"full_name"`
	File     string   `json:"file"`
	Methods  []Method `json:"methods"`
}

// Method is a listing-friendly summary of a method.
type Method struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	InputType  string `json:"input_type"`
	OutputType string `json:"output_type"`
	Shape      string `json:"shape"`
}

// ServiceOf summarizes sd.
func ServiceOf(sd *descriptor.ServiceDescriptor) Service {
	svc := Service{
		Name:     sd.Name(),
		FullName: sd.FullName(),
		File:     sd.File(),
		Methods:  make([]Method, 0, len(sd.Methods())),
	}
	for _, m := range sd.Methods() {
		svc.Methods = append(svc.Methods, MethodOf(m))
	}
	return svc
}

// MethodOf summarizes md.
func MethodOf(md *descriptor.MethodDescriptor) Method {
	return Method{
		Name:       md.Name(),
		Path:       md.Path(),
		InputType:  md.Input().FullName(),
		OutputType: md.Output().FullName(),
		Shape:      md.Shape().String(),
	}
}

// Services summarizes the services of the root files of set.
func Services(set *descriptor.Set) []Service {
	out := make([]Service, 0, len(set.Services()))
	for _, sd := range set.Services() {
		out = append(out, ServiceOf(sd))
	}
	return out
}

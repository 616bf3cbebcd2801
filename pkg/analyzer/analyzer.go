// Package analyzer maps Kubernetes workloads to the IAM roles they assume
// and scans those roles.
package analyzer

import (
	"context"
	"fmt"
	"strings"

	"github.com/berkguzel/iamguard/internal/logger"
	"github.com/berkguzel/iamguard/pkg/types"
)

const defaultServiceAccount = "default"

type K8sClient interface {
	GetPod(ctx context.Context, name, namespace string) (Pod, error)
	ListPods(ctx context.Context, namespace string) ([]Pod, error)
	GetServiceAccountIAMRole(ctx context.Context, namespace, saName string) (string, error)
}

// RoleScanner scans a single IAM identity.
type RoleScanner interface {
	ScanIdentity(ctx context.Context, identity types.Identity) types.ScanResult
}

type Analyzer struct {
	k8sClient K8sClient
	scanner   RoleScanner
	log       logger.Logger
}

func New(k8sClient K8sClient, scanner RoleScanner) *Analyzer {
	return &Analyzer{
		k8sClient: k8sClient,
		scanner:   scanner,
		log:       logger.New("analyzer"),
	}
}

type Pod struct {
	Name string
	Spec PodSpec
}

type PodSpec struct {
	ServiceAccountName string
}

// Analyze scans the role of podName, or of every pod in namespace when
// podName is empty.
func (a *Analyzer) Analyze(ctx context.Context, podName, namespace string) ([]types.PodReport, error) {
	if podName != "" {
		rep, err := a.AnalyzePod(ctx, podName, namespace)
		if err != nil {
			return nil, err
		}
		return []types.PodReport{rep}, nil
	}
	return a.analyzeNamespace(ctx, namespace)
}

// AnalyzePod resolves the IAM role bound to a pod through its service
// account and scans it.
func (a *Analyzer) AnalyzePod(ctx context.Context, podName, namespace string) (types.PodReport, error) {
	pod, err := a.k8sClient.GetPod(ctx, podName, namespace)
	if err != nil {
		return types.PodReport{}, fmt.Errorf("failed to get pod %s: %v", podName, err)
	}
	if pod.Name == "" {
		pod.Name = podName
	}
	return a.analyze(ctx, pod, namespace)
}

func (a *Analyzer) analyze(ctx context.Context, pod Pod, namespace string) (types.PodReport, error) {
	saName := pod.Spec.ServiceAccountName
	if saName == "" {
		saName = defaultServiceAccount
	}

	iamRole, err := a.k8sClient.GetServiceAccountIAMRole(ctx, namespace, saName)
	if err != nil {
		return types.PodReport{}, fmt.Errorf("no IAM role found for service account %s: %v", saName, err)
	}

	roleName, err := getRoleNameFromARN(iamRole)
	if err != nil {
		return types.PodReport{}, err
	}

	a.log.Debug("scanning pod role", "pod", pod.Name, "namespace", namespace, "role", roleName)
	res := a.scanner.ScanIdentity(ctx, types.Identity{Name: roleName, Kind: types.IdentityRole})

	return types.PodReport{
		PodName:        pod.Name,
		Namespace:      namespace,
		ServiceAccount: saName,
		IAMRole:        iamRole,
		Result:         res,
	}, nil
}

// analyzeNamespace scans every pod whose service account carries a role
// annotation. Roles shared by several pods are scanned once.
func (a *Analyzer) analyzeNamespace(ctx context.Context, namespace string) ([]types.PodReport, error) {
	pods, err := a.k8sClient.ListPods(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list pods in %s: %v", namespace, err)
	}

	scanned := make(map[string]types.ScanResult)
	reports := []types.PodReport{}
	for _, pod := range pods {
		saName := pod.Spec.ServiceAccountName
		if saName == "" {
			saName = defaultServiceAccount
		}

		iamRole, err := a.k8sClient.GetServiceAccountIAMRole(ctx, namespace, saName)
		if err != nil {
			a.log.Debug("skipping pod without IAM role", "pod", pod.Name, "serviceAccount", saName)
			continue
		}

		res, ok := scanned[iamRole]
		if !ok {
			rep, err := a.analyze(ctx, pod, namespace)
			if err != nil {
				a.log.Warn("failed to analyze pod", "pod", pod.Name, "error", err)
				continue
			}
			scanned[iamRole] = rep.Result
			reports = append(reports, rep)
			continue
		}

		reports = append(reports, types.PodReport{
			PodName:        pod.Name,
			Namespace:      namespace,
			ServiceAccount: saName,
			IAMRole:        iamRole,
			Result:         res,
		})
	}
	return reports, nil
}

// getRoleNameFromARN extracts the role name from a role ARN, dropping any
// path: arn:aws:iam::123456789012:role/path/name -> name.
func getRoleNameFromARN(arn string) (string, error) {
	if !strings.HasPrefix(arn, "arn:") {
		return "", fmt.Errorf("invalid role ARN %q", arn)
	}
	idx := strings.Index(arn, ":role/")
	if idx < 0 {
		return "", fmt.Errorf("invalid role ARN %q", arn)
	}
	path := arn[idx+len(":role/"):]
	name := path[strings.LastIndex(path, "/")+1:]
	if name == "" {
		return "", fmt.Errorf("invalid role ARN %q", arn)
	}
	return name, nil
}

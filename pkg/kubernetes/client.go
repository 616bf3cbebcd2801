package kubernetes

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/berkguzel/iamguard/pkg/analyzer"
	"github.com/mitchellh/go-homedir"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// RoleAnnotation is the IRSA annotation binding a service account to an IAM role.
const RoleAnnotation = "eks.amazonaws.com/role-arn"

type Client struct {
	clientset kubernetes.Interface
}

func NewClient(kubeconfigPath string) (*Client, error) {
	var config *rest.Config
	var err error

	// If running inside cluster
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		config, err = rest.InClusterConfig()
	} else {
		if kubeconfigPath == "" {
			if envPath := os.Getenv("KUBECONFIG"); envPath != "" {
				kubeconfigPath = envPath
			} else {
				home, _ := homedir.Dir()
				kubeconfigPath = filepath.Join(home, ".kube", "config")
			}
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create config: %v", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %v", err)
	}

	return NewFromClientset(clientset), nil
}

func NewFromClientset(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset}
}

func (c *Client) GetPod(ctx context.Context, name, namespace string) (analyzer.Pod, error) {
	pod, err := c.clientset.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return analyzer.Pod{}, err
	}

	return analyzer.Pod{
		Name: pod.Name,
		Spec: analyzer.PodSpec{
			ServiceAccountName: pod.Spec.ServiceAccountName,
		},
	}, nil
}

func (c *Client) ListPods(ctx context.Context, namespace string) ([]analyzer.Pod, error) {
	list, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}

	pods := make([]analyzer.Pod, 0, len(list.Items))
	for _, p := range list.Items {
		pods = append(pods, analyzer.Pod{
			Name: p.Name,
			Spec: analyzer.PodSpec{ServiceAccountName: p.Spec.ServiceAccountName},
		})
	}
	return pods, nil
}

func (c *Client) GetServiceAccountIAMRole(ctx context.Context, namespace, saName string) (string, error) {
	sa, err := c.clientset.CoreV1().ServiceAccounts(namespace).Get(ctx, saName, metav1.GetOptions{})
	if err != nil {
		return "", err
	}

	roleARN, exists := sa.Annotations[RoleAnnotation]
	if !exists || roleARN == "" {
		return "", fmt.Errorf("no IAM role annotation found on service account")
	}

	return roleARN, nil
}

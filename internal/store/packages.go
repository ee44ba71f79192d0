package store

import (
	"fmt"
	"sort"
	"strings"

	"reviewhub/internal/review"
)

// ListPackages returns all review packages sorted by creation time.
func (s *Store) ListPackages() ([]review.ReviewPackage, error) {
	var packages []review.ReviewPackage
	if _, err := readJSON(s.packagesPath(), &packages); err != nil {
		return nil, err
	}
	sort.Slice(packages, func(i, j int) bool {
		if !packages[i].CreatedAt.Equal(packages[j].CreatedAt) {
			return packages[i].CreatedAt.Before(packages[j].CreatedAt)
		}
		return packages[i].ID < packages[j].ID
	})
	return packages, nil
}

// GetPackage looks up a package by id.
func (s *Store) GetPackage(packageID string) (review.ReviewPackage, error) {
	packages, err := s.ListPackages()
	if err != nil {
		return review.ReviewPackage{}, err
	}
	for _, pkg := range packages {
		if pkg.ID == packageID {
			return pkg, nil
		}
	}
	return review.ReviewPackage{}, fmt.Errorf("package %s: %w", packageID, ErrNotFound)
}

// CreatePackage adds a new package. Package names are unique.
func (s *Store) CreatePackage(pkg review.ReviewPackage) (review.ReviewPackage, error) {
	if err := pkg.Validate(); err != nil {
		return review.ReviewPackage{}, fmt.Errorf("validate package: %w", err)
	}
	lock := s.globalLock()
	lock.Lock()
	defer lock.Unlock()

	packages, err := s.ListPackages()
	if err != nil {
		return review.ReviewPackage{}, err
	}
	for _, existing := range packages {
		if existing.ID == pkg.ID {
			return review.ReviewPackage{}, fmt.Errorf("package %s already exists: %w", pkg.ID, ErrConflict)
		}
		if strings.EqualFold(existing.Name, pkg.Name) {
			return review.ReviewPackage{}, fmt.Errorf("package name %q already in use: %w", pkg.Name, ErrConflict)
		}
	}
	packages = append(packages, pkg)
	if err := writeJSONAtomic(s.packagesPath(), packages); err != nil {
		return review.ReviewPackage{}, err
	}
	return pkg, nil
}

// UpdatePackage replaces a package's name and description.
func (s *Store) UpdatePackage(packageID, name, description string) (review.ReviewPackage, error) {
	return s.mutatePackage(packageID, func(pkg *review.ReviewPackage) error {
		if strings.TrimSpace(name) != "" {
			pkg.Name = name
		}
		pkg.Description = description
		return nil
	})
}

// DeletePackage removes a package. Packages are the only records that are
// ever hard-deleted; per-requirement review history stays for audit.
func (s *Store) DeletePackage(packageID string) error {
	lock := s.globalLock()
	lock.Lock()
	defer lock.Unlock()

	packages, err := s.ListPackages()
	if err != nil {
		return err
	}
	kept := packages[:0]
	found := false
	for _, pkg := range packages {
		if pkg.ID == packageID {
			found = true
			continue
		}
		kept = append(kept, pkg)
	}
	if !found {
		return fmt.Errorf("package %s: %w", packageID, ErrNotFound)
	}
	return writeJSONAtomic(s.packagesPath(), kept)
}

// AddPackageMember adds a requirement to a package's membership set.
func (s *Store) AddPackageMember(packageID, reqID string) (review.ReviewPackage, error) {
	return s.mutatePackage(packageID, func(pkg *review.ReviewPackage) error {
		if pkg.ReqIDs == nil {
			pkg.ReqIDs = make(map[string]bool)
		}
		pkg.ReqIDs[reqID] = true
		return nil
	})
}

// RemovePackageMember removes a requirement from a package.
func (s *Store) RemovePackageMember(packageID, reqID string) (review.ReviewPackage, error) {
	return s.mutatePackage(packageID, func(pkg *review.ReviewPackage) error {
		if _, ok := pkg.ReqIDs[reqID]; !ok {
			return fmt.Errorf("requirement %s not in package %s", reqID, packageID)
		}
		delete(pkg.ReqIDs, reqID)
		return nil
	})
}

func (s *Store) mutatePackage(packageID string, mutate func(*review.ReviewPackage) error) (review.ReviewPackage, error) {
	lock := s.globalLock()
	lock.Lock()
	defer lock.Unlock()

	packages, err := s.ListPackages()
	if err != nil {
		return review.ReviewPackage{}, err
	}
	for i := range packages {
		if packages[i].ID != packageID {
			continue
		}
		if err := mutate(&packages[i]); err != nil {
			return review.ReviewPackage{}, err
		}
		if err := writeJSONAtomic(s.packagesPath(), packages); err != nil {
			return review.ReviewPackage{}, err
		}
		return packages[i], nil
	}
	return review.ReviewPackage{}, fmt.Errorf("package %s: %w", packageID, ErrNotFound)
}

package lease_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/codelaboratoryltd/dhcp6d/pkg/lease"
)

func TestLeaseStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Lease Store Suite")
}

func makeLease(addr string, duid []byte, iaid, subnetID uint32) *lease.Lease {
	return &lease.Lease{
		Address:   net.ParseIP(addr),
		DUID:      duid,
		IAID:      iaid,
		SubnetID:  subnetID,
		T1:        1000,
		T2:        2000,
		Preferred: 3000,
		Valid:     4000,
		CLTT:      time.Now().Truncate(time.Second),
	}
}

// The conformance suite runs against every backend; both must satisfy the
// same Store contract.
var _ = Describe("Store", func() {
	backends := []struct {
		name string
		make func() lease.Store
	}{
		{"memory", func() lease.Store { return lease.NewMemoryStore() }},
		{"sqlite", func() lease.Store {
			store, err := lease.NewSQLiteStore(filepath.Join(GinkgoT().TempDir(), "leases.db"))
			Expect(err).NotTo(HaveOccurred())
			return store
		}},
	}

	for _, backend := range backends {
		backend := backend

		Describe(backend.name, func() {
			var (
				store lease.Store
				ctx   context.Context
				duid  = []byte{0x00, 0x01, 0xAA, 0xBB, 0xCC}
			)

			BeforeEach(func() {
				store = backend.make()
				ctx = context.Background()
			})

			AfterEach(func() {
				Expect(store.Close()).To(Succeed())
			})

			It("should add and retrieve by address", func() {
				l := makeLease("2001:db8:1:1::10", duid, 234, 1)
				Expect(store.Add(ctx, l)).To(Succeed())

				got, err := store.GetByAddress(ctx, net.ParseIP("2001:db8:1:1::10"))
				Expect(err).NotTo(HaveOccurred())
				Expect(got).NotTo(BeNil())
				Expect(got.DUID).To(Equal(duid))
				Expect(got.IAID).To(Equal(uint32(234)))
				Expect(got.SubnetID).To(Equal(uint32(1)))
			})

			It("should retrieve by client tuple", func() {
				l := makeLease("2001:db8:1:1::10", duid, 234, 1)
				Expect(store.Add(ctx, l)).To(Succeed())

				got, err := store.GetByClient(ctx, duid, 234, 1)
				Expect(err).NotTo(HaveOccurred())
				Expect(got).NotTo(BeNil())
				Expect(got.Address.Equal(net.ParseIP("2001:db8:1:1::10"))).To(BeTrue())
			})

			It("should miss with nil, not an error", func() {
				got, err := store.GetByAddress(ctx, net.ParseIP("2001:db8::1"))
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(BeNil())

				got, err = store.GetByClient(ctx, duid, 1, 1)
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(BeNil())
			})

			It("should refuse a second lease for the same address", func() {
				Expect(store.Add(ctx, makeLease("2001:db8:1:1::10", duid, 234, 1))).To(Succeed())

				err := store.Add(ctx, makeLease("2001:db8:1:1::10", []byte{0xDD}, 99, 1))
				Expect(err).To(MatchError(lease.ErrDuplicate))
			})

			It("should refuse a second lease for the same client tuple", func() {
				Expect(store.Add(ctx, makeLease("2001:db8:1:1::10", duid, 234, 1))).To(Succeed())

				// Same (DUID, IAID, subnet) with a different address
				// violates the one-lease-per-binding invariant.
				err := store.Add(ctx, makeLease("2001:db8:1:1::11", duid, 234, 1))
				Expect(err).To(HaveOccurred())
			})

			It("should update an existing lease in place", func() {
				l := makeLease("2001:db8:1:1::10", duid, 234, 1)
				Expect(store.Add(ctx, l)).To(Succeed())

				l.T1 = 111
				l.T2 = 222
				l.CLTT = time.Now().Add(time.Hour).Truncate(time.Second)
				Expect(store.Update(ctx, l)).To(Succeed())

				got, err := store.GetByAddress(ctx, l.Address)
				Expect(err).NotTo(HaveOccurred())
				Expect(got.T1).To(Equal(uint32(111)))
				Expect(got.T2).To(Equal(uint32(222)))
				Expect(got.CLTT.Unix()).To(Equal(l.CLTT.Unix()))
			})

			It("should fail updating a missing lease", func() {
				err := store.Update(ctx, makeLease("2001:db8:1:1::10", duid, 234, 1))
				Expect(err).To(MatchError(lease.ErrNotFound))
			})

			It("should delete and empty both indexes", func() {
				l := makeLease("2001:db8:1:1::cafe:babe", duid, 234, 1)
				Expect(store.Add(ctx, l)).To(Succeed())

				removed, err := store.Delete(ctx, l.Address)
				Expect(err).NotTo(HaveOccurred())
				Expect(removed).To(BeTrue())

				got, err := store.GetByAddress(ctx, l.Address)
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(BeNil())

				got, err = store.GetByClient(ctx, duid, 234, 1)
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(BeNil())
			})

			It("should report deleting a missing lease as false", func() {
				removed, err := store.Delete(ctx, net.ParseIP("2001:db8::1"))
				Expect(err).NotTo(HaveOccurred())
				Expect(removed).To(BeFalse())
			})

			It("should keep one lease per client tuple after update", func() {
				l := makeLease("2001:db8:1:1::10", duid, 234, 1)
				Expect(store.Add(ctx, l)).To(Succeed())

				// Rebind the lease to a different IAID; the old tuple
				// must stop resolving.
				l.IAID = 999
				Expect(store.Update(ctx, l)).To(Succeed())

				got, err := store.GetByClient(ctx, duid, 234, 1)
				Expect(err).NotTo(HaveOccurred())
				Expect(got).To(BeNil())

				got, err = store.GetByClient(ctx, duid, 999, 1)
				Expect(err).NotTo(HaveOccurred())
				Expect(got).NotTo(BeNil())
			})
		})
	}
})

var _ = Describe("MemoryStore", func() {
	It("should not alias caller memory", func() {
		store := lease.NewMemoryStore()
		ctx := context.Background()

		l := makeLease("2001:db8:1:1::10", []byte{0x01, 0x02}, 1, 1)
		Expect(store.Add(ctx, l)).To(Succeed())

		// Mutating the caller's lease must not reach the store.
		l.DUID[0] = 0xFF

		got, err := store.GetByAddress(ctx, net.ParseIP("2001:db8:1:1::10"))
		Expect(err).NotTo(HaveOccurred())
		Expect(got.DUID).To(Equal([]byte{0x01, 0x02}))

		// Mutating the returned lease must not reach the store either.
		got.DUID[1] = 0xEE
		again, err := store.GetByAddress(ctx, net.ParseIP("2001:db8:1:1::10"))
		Expect(err).NotTo(HaveOccurred())
		Expect(again.DUID).To(Equal([]byte{0x01, 0x02}))
	})

	It("should count stored leases", func() {
		store := lease.NewMemoryStore()
		ctx := context.Background()

		Expect(store.Count()).To(BeZero())
		Expect(store.Add(ctx, makeLease("2001:db8::1", []byte{0x01}, 1, 1))).To(Succeed())
		Expect(store.Add(ctx, makeLease("2001:db8::2", []byte{0x02}, 2, 1))).To(Succeed())
		Expect(store.Count()).To(Equal(2))
	})
})
